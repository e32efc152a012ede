// SPDX-License-Identifier: MPL-2.0

package avbmeta

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// LPMetadataFile is the LP (super) metadata document name used by avbroot.
const LPMetadataFile = "lp.toml"

type (
	// LPMetadata is a read-only view of lp.toml. Only the partition names
	// are consumed here; the document itself is copied verbatim when a super
	// image is reassembled, so everything else stays untouched.
	LPMetadata struct {
		Slots []LPSlot `toml:"slots"`
	}

	// LPSlot is one A/B slot's group list.
	LPSlot struct {
		Groups []LPGroup `toml:"groups"`
	}

	// LPGroup is a partition group within a slot.
	LPGroup struct {
		Name       string        `toml:"name"`
		Partitions []LPPartition `toml:"partitions"`
	}

	// LPPartition is one logical partition entry (e.g. system_a, vendor_b).
	LPPartition struct {
		Name string `toml:"name"`
	}
)

// LoadLP reads the lp.toml document at path.
func LoadLP(path string) (*LPMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read LP metadata: %w", err)
	}

	var m LPMetadata
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &m, nil
}

// SlotPartitions returns the partition entries of the first slot. xiaomi.eu
// fastboot super images are virtual A/B, so slot 0 describes everything.
func (m *LPMetadata) SlotPartitions() []LPPartition {
	if len(m.Slots) == 0 {
		return nil
	}
	var parts []LPPartition
	for _, g := range m.Slots[0].Groups {
		parts = append(parts, g.Partitions...)
	}
	return parts
}
