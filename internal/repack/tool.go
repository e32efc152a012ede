// SPDX-License-Identifier: MPL-2.0

// Package repack implements the two pipelines: unpacking a fastboot image
// directory into editable per-partition (avb.toml, raw.img) pairs, and
// packing such pairs back into signed images. All AVB semantics live behind
// the Tool interface; this package only orchestrates directories, metadata
// documents, and invocation order.
package repack

import "context"

// Tool is the narrow contract with the external AVB executable. It is
// satisfied by avbroot.CLI; tests substitute fakes that write the same
// file layout.
type Tool interface {
	// IsAVBValid reports whether image carries valid AVB metadata.
	IsAVBValid(ctx context.Context, image string) bool

	// UnpackAVB extracts avb.toml and raw.img from image into dir.
	UnpackAVB(ctx context.Context, image, dir string) error

	// PackAVB builds and signs an image from dir's avb.toml and raw.img,
	// rewriting avb.toml with the recomputed digests and signature.
	PackAVB(ctx context.Context, dir, output, key string, recomputeSize bool) error

	// VerifyAVB verifies the trust chain rooted at image against an encoded
	// public key file.
	VerifyAVB(ctx context.Context, image, publicKey string) error

	// EncodeAVBKey encodes the private key into AVB public key format.
	EncodeAVBKey(ctx context.Context, key, output string) error

	// UnpackSparse unsparses input into output; with preserve set the output
	// is not truncated first, so split chunks can be joined.
	UnpackSparse(ctx context.Context, input, output string, preserve bool) error

	// UnpackLP unpacks an LP (super) image into dir.
	UnpackLP(ctx context.Context, image, dir string) error

	// PackLP packs dir's lp.toml and lp_images into an LP image at output.
	PackLP(ctx context.Context, dir, output string) error
}
