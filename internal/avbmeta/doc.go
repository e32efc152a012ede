// SPDX-License-Identifier: MPL-2.0

// Package avbmeta models the avb.toml metadata document that avbroot emits
// during unpack and consumes during pack, plus a read-only view of lp.toml.
// The schema is explicit so malformed documents fail at parse time instead
// of surfacing as confusing avbroot invocation errors. Payload-derived
// fields (digests, image sizes) are advisory: avbroot recomputes them from
// the raw payload when packing.
package avbmeta
