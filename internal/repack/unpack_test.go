// SPDX-License-Identifier: MPL-2.0

package repack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"avbrepack/internal/avbmeta"
)

// hashDoc builds a minimal avb.toml with a hash descriptor for the partition.
func hashDoc(partition string) string {
	return fmt.Sprintf(`image_size = 4096

[header]
required_libavb_version_major = 1
required_libavb_version_minor = 0
algorithm_type = "Sha256Rsa4096"
hash = "aa"
signature = "bb"
public_key = "cc"
public_key_metadata = ""
rollback_index = 0
flags = 0
rollback_index_location = 0
release_string = "avbtool 1.3.0"
reserved = "00"

[[header.descriptors]]
type = "Hash"
image_size = 2048
hash_algorithm = "sha256"
partition_name = %q
salt = "deadbeef"
root_digest = "stale"
flags = 0

[footer]
version_major = 1
version_minor = 0
original_image_size = 2048
vbmeta_offset = 2048
vbmeta_size = 1024
reserved = "00"
`, partition)
}

// vbmetaDoc builds an avb.toml for a vbmeta image with one chain descriptor
// and one hash-tree descriptor referencing other partitions.
func vbmetaDoc(chained, treed string) string {
	return fmt.Sprintf(`image_size = 8192

[header]
required_libavb_version_major = 1
required_libavb_version_minor = 0
algorithm_type = "Sha256Rsa4096"
hash = "aa"
signature = "bb"
public_key = "cc"
public_key_metadata = ""
rollback_index = 0
flags = 3
rollback_index_location = 0
release_string = "avbtool 1.3.0"
reserved = "00"

[[header.descriptors]]
type = "ChainPartition"
rollback_index_location = 1
partition_name = %q
public_key = "old-chain-key"

[[header.descriptors]]
type = "HashTree"
image_size = 4096
hash_algorithm = "sha1"
partition_name = %q
salt = "00"
root_digest = "stale"
data_block_size = 4096
hash_block_size = 4096

[footer]
version_major = 1
version_minor = 0
original_image_size = 0
vbmeta_offset = 0
vbmeta_size = 8192
reserved = "00"
`, chained, treed)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func writeInputImage(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}
}

func TestUnpack_MissingInputDir(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope")
	u := NewUnpacker(newFakeTool(t), quietLogger())
	err := u.Run(context.Background(), UnpackOptions{InputDir: missing, OutputDir: t.TempDir()})

	if !errors.Is(err, ErrMissingInputDir) {
		t.Fatalf("expected ErrMissingInputDir, got %v", err)
	}
	if !strings.Contains(err.Error(), missing) {
		t.Errorf("error should name the missing path, got: %v", err)
	}
}

func TestUnpack_PlainImages(t *testing.T) {
	t.Parallel()

	input := t.TempDir()
	output := t.TempDir()
	writeInputImage(t, input, "boot.img", "boot-payload")
	writeInputImage(t, input, "vendor_boot.img", "vendor-payload")
	writeInputImage(t, input, "flash_all.sh", "#!/bin/sh")

	tool := newFakeTool(t)
	tool.metadata["boot"] = hashDoc("boot")
	tool.metadata["vendor_boot"] = hashDoc("vendor_boot")

	u := NewUnpacker(tool, quietLogger())
	if err := u.Run(context.Background(), UnpackOptions{InputDir: input, OutputDir: output}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"boot", "vendor_boot"} {
		if _, err := os.Stat(filepath.Join(output, name, avbmeta.MetadataFile)); err != nil {
			t.Errorf("missing %s/avb.toml: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(output, name, RawImageFile)); err != nil {
			t.Errorf("missing %s/raw.img: %v", name, err)
		}
	}

	// The shell script is skipped, not unpacked.
	if _, err := os.Stat(filepath.Join(output, "flash_all")); !os.IsNotExist(err) {
		t.Error("non-image file must not produce a partition directory")
	}
}

func TestUnpack_Idempotent(t *testing.T) {
	t.Parallel()

	input := t.TempDir()
	output := t.TempDir()
	writeInputImage(t, input, "boot.img", "boot-payload")

	tool := newFakeTool(t)
	tool.metadata["boot"] = hashDoc("boot")

	u := NewUnpacker(tool, quietLogger())
	if err := u.Run(context.Background(), UnpackOptions{InputDir: input, OutputDir: output}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(output, "boot", avbmeta.MetadataFile))
	if err != nil {
		t.Fatalf("read first avb.toml: %v", err)
	}

	if err := u.Run(context.Background(), UnpackOptions{InputDir: input, OutputDir: output}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(output, "boot", avbmeta.MetadataFile))
	if err != nil {
		t.Fatalf("read second avb.toml: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("re-running unpack changed avb.toml")
	}
}

func TestUnpack_VbmetaCoveredImages(t *testing.T) {
	t.Parallel()

	input := t.TempDir()
	output := t.TempDir()
	writeInputImage(t, input, "vbmeta.img", "vbmeta-payload")
	writeInputImage(t, input, "boot.img", "boot-payload")
	writeInputImage(t, input, "dtbo.img", "dtbo-payload")

	tool := newFakeTool(t)
	tool.metadata["vbmeta"] = vbmetaDoc("boot", "dtbo")
	tool.metadata["boot"] = hashDoc("boot")
	tool.metadata["dtbo"] = hashDoc("dtbo")

	u := NewUnpacker(tool, quietLogger())
	if err := u.Run(context.Background(), UnpackOptions{InputDir: input, OutputDir: output}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"vbmeta", "boot", "dtbo"} {
		if _, err := os.Stat(filepath.Join(output, name, avbmeta.MetadataFile)); err != nil {
			t.Errorf("missing %s/avb.toml: %v", name, err)
		}
	}
}

func TestUnpack_ToolFailureIsFatal(t *testing.T) {
	t.Parallel()

	input := t.TempDir()
	writeInputImage(t, input, "boot.img", "boot-payload")

	// No metadata configured: the fake tool fails like avbroot would on a
	// non-AVB image.
	u := NewUnpacker(newFakeTool(t), quietLogger())
	err := u.Run(context.Background(), UnpackOptions{InputDir: input, OutputDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected fatal error from tool failure")
	}
	if !strings.Contains(err.Error(), "avbroot") {
		t.Errorf("tool diagnostic should surface, got: %v", err)
	}
}

func TestUnpack_SuperImage(t *testing.T) {
	t.Parallel()

	input := t.TempDir()
	output := t.TempDir()
	writeInputImage(t, input, "vbmeta.img", "vbmeta-payload")
	writeInputImage(t, input, "super.img.0", "chunk0-")
	writeInputImage(t, input, "super.img.1", "chunk1")

	tool := newFakeTool(t)
	tool.metadata["vbmeta"] = vbmetaDoc("system", "vendor")
	tool.metadata["system"] = hashDoc("system")
	tool.lpDocument = `[[slots]]

[[slots.groups]]
name = "default"

[[slots.groups.partitions]]
name = "system_a"

[[slots.groups.partitions]]
name = "system_b"

[[slots.groups.partitions]]
name = "vendor_a"

[[slots.groups.partitions]]
name = "vendor_b"
`
	tool.lpImages["system_a"] = "system-payload"
	tool.lpImages["system_b"] = ""
	tool.lpImages["vendor_a"] = "vendor-payload"
	tool.lpImages["vendor_b"] = ""

	u := NewUnpacker(tool, quietLogger())

	// vendor_a carries no AVB appendix of its own; template metadata comes
	// from the covering vbmeta descriptor.
	superDir := filepath.Join(output, "super")
	tool.invalid[filepath.Join(superDir, "lp_images", "vendor_a.img")] = true

	if err := u.Run(context.Background(), UnpackOptions{InputDir: input, OutputDir: output}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// system was AVB-valid and unpacked normally.
	if _, err := os.Stat(filepath.Join(output, "system", avbmeta.MetadataFile)); err != nil {
		t.Errorf("missing system/avb.toml: %v", err)
	}

	// vendor got template metadata and its payload moved untouched.
	meta, err := avbmeta.Load(filepath.Join(output, "vendor", avbmeta.MetadataFile))
	if err != nil {
		t.Fatalf("load vendor template: %v", err)
	}
	if meta.Header.AlgorithmType != "None" {
		t.Errorf("hash-tree covered partition should be unsigned, got %q", meta.Header.AlgorithmType)
	}
	raw, err := os.ReadFile(filepath.Join(output, "vendor", RawImageFile))
	if err != nil {
		t.Fatalf("read vendor raw.img: %v", err)
	}
	if string(raw) != "vendor-payload" {
		t.Errorf("vendor payload must move untouched, got %q", raw)
	}

	// The joined super image and the LP staging directory are cleaned up.
	if _, err := os.Stat(filepath.Join(output, "super.img")); !os.IsNotExist(err) {
		t.Error("joined super.img should be removed")
	}
	if _, err := os.Stat(filepath.Join(superDir, "lp_images")); !os.IsNotExist(err) {
		t.Error("lp_images staging dir should be removed")
	}
	if _, err := os.Stat(filepath.Join(superDir, avbmeta.LPMetadataFile)); err != nil {
		t.Errorf("super/lp.toml must survive for pack: %v", err)
	}
}

func TestUnpack_NonEmptyInactiveSlot(t *testing.T) {
	t.Parallel()

	input := t.TempDir()
	writeInputImage(t, input, "super.img.0", "chunk")

	tool := newFakeTool(t)
	tool.lpDocument = `[[slots]]

[[slots.groups]]
name = "default"

[[slots.groups.partitions]]
name = "system_b"
`
	tool.lpImages["system_b"] = "unexpected data"

	u := NewUnpacker(tool, quietLogger())
	err := u.Run(context.Background(), UnpackOptions{InputDir: input, OutputDir: t.TempDir()})
	if !errors.Is(err, ErrLPImageNotEmpty) {
		t.Fatalf("expected ErrLPImageNotEmpty, got %v", err)
	}
}
