// SPDX-License-Identifier: MPL-2.0

package avbmeta

import "strings"

// Placeholder widths for the zeroed signing fields in generated metadata.
// They match the Sha256Rsa4096 layout avbroot expects; the real values are
// recomputed during pack.
const (
	placeholderHashLen      = 64
	placeholderSignatureLen = 512
	placeholderPublicKeyLen = 1032
	headerReservedLen       = 160
	footerReservedLen       = 56
)

// NewTemplate builds metadata for an LP partition image that carries no AVB
// appendix of its own. The covering vbmeta descriptor decides the shape: a
// chain descriptor means the partition gets signed in its own right, any
// other descriptor kind leaves it unsigned and verified via vbmeta. Sizes
// and digests are left zeroed; avbroot recomputes them when packing.
func NewTemplate(covering Descriptor) *Metadata {
	signed := covering.IsChain()

	algorithm := "None"
	hash := ""
	signature := ""
	publicKey := ""
	if signed {
		algorithm = "Sha256Rsa4096"
		hash = zeros(placeholderHashLen)
		signature = zeros(placeholderSignatureLen)
		publicKey = zeros(placeholderPublicKeyLen)
	}

	return &Metadata{
		ImageSize: 0,
		Header: Header{
			RequiredLibavbVersionMajor: 1,
			RequiredLibavbVersionMinor: 0,
			AlgorithmType:              algorithm,
			Hash:                       hash,
			Signature:                  signature,
			PublicKey:                  publicKey,
			PublicKeyMetadata:          "",
			RollbackIndex:              0,
			Flags:                      0,
			RollbackIndexLocation:      0,
			ReleaseString:              "avbtool 1.3.0",
			Reserved:                   zeros(headerReservedLen),
			Descriptors:                []Descriptor{covering},
		},
		Footer: Footer{
			VersionMajor:      1,
			VersionMinor:      0,
			OriginalImageSize: 0,
			VbmetaOffset:      0,
			VbmetaSize:        0,
			Reserved:          zeros(footerReservedLen),
		},
	}
}

func zeros(n int) string {
	return strings.Repeat("0", n)
}
