// SPDX-License-Identifier: MPL-2.0

package avbmeta

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// MetadataFile is the per-partition metadata document name used by avbroot.
const MetadataFile = "avb.toml"

// headerFlagsDisableVerification covers the two libavb flag bits that turn
// off verification (hashtree disabled, verification disabled). They are
// cleared before signing vbmeta so the repacked chain is actually enforced.
const headerFlagsDisableVerification uint32 = 3

// ErrMetadataParse is the sentinel error wrapped by ParseError.
var ErrMetadataParse = errors.New("metadata parse error")

type (
	// Metadata is the full avb.toml document: top-level image size plus the
	// AVB header and footer as dumped by avbroot.
	Metadata struct {
		ImageSize uint64 `toml:"image_size"`
		Header    Header `toml:"header"`
		Footer    Footer `toml:"footer"`
	}

	// Header mirrors the vbmeta header block. Hash, signature, and key
	// fields are hex strings; empty strings mean unsigned.
	Header struct {
		RequiredLibavbVersionMajor uint32       `toml:"required_libavb_version_major"`
		RequiredLibavbVersionMinor uint32       `toml:"required_libavb_version_minor"`
		AlgorithmType              string       `toml:"algorithm_type"`
		Hash                       string       `toml:"hash"`
		Signature                  string       `toml:"signature"`
		PublicKey                  string       `toml:"public_key"`
		PublicKeyMetadata          string       `toml:"public_key_metadata"`
		RollbackIndex              uint64       `toml:"rollback_index"`
		Flags                      uint32       `toml:"flags"`
		RollbackIndexLocation      uint32       `toml:"rollback_index_location"`
		ReleaseString              string       `toml:"release_string"`
		Reserved                   string       `toml:"reserved"`
		Descriptors                []Descriptor `toml:"descriptors"`
	}

	// Footer mirrors the AVB footer block appended to the partition image.
	Footer struct {
		VersionMajor      uint32 `toml:"version_major"`
		VersionMinor      uint32 `toml:"version_minor"`
		OriginalImageSize uint64 `toml:"original_image_size"`
		VbmetaOffset      uint64 `toml:"vbmeta_offset"`
		VbmetaSize        uint64 `toml:"vbmeta_size"`
		Reserved          string `toml:"reserved"`
	}

	// ParseError is returned when an avb.toml document cannot be decoded or
	// fails schema validation. Truncated tool output lands here too.
	ParseError struct {
		Path string
		Err  error
	}
)

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

// Unwrap returns ErrMetadataParse so callers can use errors.Is for programmatic detection.
func (e *ParseError) Unwrap() error { return ErrMetadataParse }

// Load reads and validates an avb.toml document.
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var m Metadata
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &m, nil
}

// Save writes the document back to path.
func Save(path string, m *Metadata) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Validate checks every descriptor against its type's required fields.
func (m *Metadata) Validate() error {
	for i := range m.Header.Descriptors {
		if err := m.Header.Descriptors[i].Validate(); err != nil {
			return fmt.Errorf("descriptor %d: %w", i, err)
		}
	}
	return nil
}

// IsSigned reports whether the header declares a signing algorithm.
func (m *Metadata) IsSigned() bool {
	return m.Header.AlgorithmType != "None"
}

// HasHashTree reports whether any descriptor is a hash tree. Hash-tree
// partitions are dynamic, so packing them needs --recompute-size.
func (m *Metadata) HasHashTree() bool {
	for i := range m.Header.Descriptors {
		if m.Header.Descriptors[i].Type == DescriptorHashTree {
			return true
		}
	}
	return false
}

// ChainedPartitions returns the names of other partitions this document's
// descriptors reference. For vbmeta images these are the partitions that
// must be packed first.
func (m *Metadata) ChainedPartitions(self string) []string {
	var names []string
	for i := range m.Header.Descriptors {
		if name := m.Header.Descriptors[i].Partition(); name != "" && name != self {
			names = append(names, name)
		}
	}
	return names
}

// DescriptorFor returns the descriptor naming the given partition, or nil.
func (m *Metadata) DescriptorFor(name string) *Descriptor {
	for i := range m.Header.Descriptors {
		if m.Header.Descriptors[i].Partition() == name {
			return &m.Header.Descriptors[i]
		}
	}
	return nil
}

// EnableVerification clears the header flag bits that disable AVB
// verification.
func (m *Metadata) EnableVerification() {
	m.Header.Flags &^= headerFlagsDisableVerification
}
