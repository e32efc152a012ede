// SPDX-License-Identifier: MPL-2.0

// Package avbroot wraps the locally installed avbroot executable. All AVB
// parsing, descriptor recomputation, sparse/LP handling, and signing happen
// inside avbroot; this package only builds argument lists, runs the binary,
// and surfaces its diagnostics. The argument contract is versioned: the CLI
// refuses to run against an avbroot older than RequiredVersion.
package avbroot
