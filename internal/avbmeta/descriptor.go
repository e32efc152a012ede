// SPDX-License-Identifier: MPL-2.0

package avbmeta

import (
	"errors"
	"fmt"
	"strings"
)

// Descriptor type tags as emitted by avbroot.
const (
	DescriptorProperty       = "Property"
	DescriptorKernelCmdline  = "KernelCmdline"
	DescriptorHash           = "Hash"
	DescriptorHashTree       = "HashTree"
	DescriptorChainPartition = "ChainPartition"
)

var (
	// ErrUnknownDescriptorType is the sentinel error wrapped by UnknownDescriptorTypeError.
	ErrUnknownDescriptorType = errors.New("unknown descriptor type")

	// ErrIncompleteDescriptor is the sentinel error wrapped by IncompleteDescriptorError.
	ErrIncompleteDescriptor = errors.New("incomplete descriptor")
)

type (
	// Descriptor is one AVB descriptor record. The document format tags each
	// descriptor with a type and only a per-type subset of fields is present,
	// so everything beyond Type is optional at the TOML level; Validate
	// enforces the per-type required fields after decoding. Pointer fields
	// keep legitimate zero values (flags = 0, fec_size = 0) distinguishable
	// from absent ones when the document is rewritten.
	Descriptor struct {
		Type string `toml:"type"`

		// Property
		Key   *string `toml:"key,omitempty"`
		Value *string `toml:"value,omitempty"`

		// KernelCmdline
		Cmdline *string `toml:"cmdline,omitempty"`

		// Hash and HashTree
		ImageSize     *uint64 `toml:"image_size,omitempty"`
		HashAlgorithm *string `toml:"hash_algorithm,omitempty"`
		Salt          *string `toml:"salt,omitempty"`
		RootDigest    *string `toml:"root_digest,omitempty"`

		// HashTree only
		DMVerityVersion *uint32 `toml:"dm_verity_version,omitempty"`
		TreeOffset      *uint64 `toml:"tree_offset,omitempty"`
		TreeSize        *uint64 `toml:"tree_size,omitempty"`
		DataBlockSize   *uint32 `toml:"data_block_size,omitempty"`
		HashBlockSize   *uint32 `toml:"hash_block_size,omitempty"`
		FECNumRoots     *uint32 `toml:"fec_num_roots,omitempty"`
		FECOffset       *uint64 `toml:"fec_offset,omitempty"`
		FECSize         *uint64 `toml:"fec_size,omitempty"`

		// ChainPartition
		RollbackIndexLocation *uint32 `toml:"rollback_index_location,omitempty"`
		PublicKey             *string `toml:"public_key,omitempty"`

		// Shared by several types
		PartitionName *string `toml:"partition_name,omitempty"`
		Flags         *uint32 `toml:"flags,omitempty"`
		Reserved      *string `toml:"reserved,omitempty"`
	}

	// UnknownDescriptorTypeError is returned when a descriptor's type tag is
	// not one of the recognized kinds.
	UnknownDescriptorTypeError struct {
		Type string
	}

	// IncompleteDescriptorError is returned when a descriptor is missing
	// fields its type requires.
	IncompleteDescriptorError struct {
		Type    string
		Missing []string
	}
)

// Error implements the error interface.
func (e *UnknownDescriptorTypeError) Error() string {
	return fmt.Sprintf("unknown descriptor type %q", e.Type)
}

// Unwrap returns ErrUnknownDescriptorType so callers can use errors.Is for programmatic detection.
func (e *UnknownDescriptorTypeError) Unwrap() error { return ErrUnknownDescriptorType }

// Error implements the error interface.
func (e *IncompleteDescriptorError) Error() string {
	return fmt.Sprintf("%s descriptor missing required fields: %s", e.Type, strings.Join(e.Missing, ", "))
}

// Unwrap returns ErrIncompleteDescriptor so callers can use errors.Is for programmatic detection.
func (e *IncompleteDescriptorError) Unwrap() error { return ErrIncompleteDescriptor }

// Partition returns the descriptor's partition_name, or "" when the
// descriptor kind carries none.
func (d *Descriptor) Partition() string {
	if d.PartitionName == nil {
		return ""
	}
	return *d.PartitionName
}

// IsChain reports whether this is a chain-partition descriptor, i.e. the
// named partition is signed independently and only its public key is
// embedded here.
func (d *Descriptor) IsChain() bool {
	return d.Type == DescriptorChainPartition
}

// Validate enforces the per-type required fields.
func (d *Descriptor) Validate() error {
	var missing []string
	need := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}

	switch d.Type {
	case DescriptorProperty:
		need("key", d.Key != nil)
		need("value", d.Value != nil)
	case DescriptorKernelCmdline:
		need("cmdline", d.Cmdline != nil)
	case DescriptorHash:
		need("partition_name", d.PartitionName != nil)
		need("hash_algorithm", d.HashAlgorithm != nil)
		need("salt", d.Salt != nil)
		need("root_digest", d.RootDigest != nil)
	case DescriptorHashTree:
		need("partition_name", d.PartitionName != nil)
		need("hash_algorithm", d.HashAlgorithm != nil)
		need("salt", d.Salt != nil)
		need("root_digest", d.RootDigest != nil)
		need("data_block_size", d.DataBlockSize != nil)
		need("hash_block_size", d.HashBlockSize != nil)
	case DescriptorChainPartition:
		need("partition_name", d.PartitionName != nil)
		need("public_key", d.PublicKey != nil)
		need("rollback_index_location", d.RollbackIndexLocation != nil)
	default:
		return &UnknownDescriptorTypeError{Type: d.Type}
	}

	if len(missing) > 0 {
		return &IncompleteDescriptorError{Type: d.Type, Missing: missing}
	}
	return nil
}
