// SPDX-License-Identifier: MPL-2.0

package repack

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"avbrepack/internal/avbmeta"
)

// fakeTool simulates avbroot's file effects so the pipelines can be tested
// against real directories without the binary. Unpack writes the configured
// metadata document plus a raw.img copy of the input; pack recomputes the
// partition's digest from raw.img (so stale recorded digests are provably
// ignored) and rewrites avb.toml the way --output-info does.
type fakeTool struct {
	t *testing.T

	// metadata maps a partition name to the avb.toml content UnpackAVB
	// writes for it.
	metadata map[string]string
	// invalid marks image paths IsAVBValid rejects.
	invalid map[string]bool
	// failPack maps a partition name to an error PackAVB returns.
	failPack map[string]error
	// lpDocument is the lp.toml content UnpackLP writes; lpImages maps LP
	// image names to their payload bytes.
	lpDocument string
	lpImages   map[string]string

	// recomputeSize records the recomputeSize flag per packed partition.
	recomputeSize map[string]bool
	// verified records VerifyAVB invocations (image paths).
	verified []string
	// lpPacked records PackLP outputs.
	lpPacked []string
	// failVerify makes VerifyAVB fail.
	failVerify bool
}

func newFakeTool(t *testing.T) *fakeTool {
	return &fakeTool{
		t:             t,
		metadata:      make(map[string]string),
		invalid:       make(map[string]bool),
		failPack:      make(map[string]error),
		lpImages:      make(map[string]string),
		recomputeSize: make(map[string]bool),
	}
}

func (f *fakeTool) IsAVBValid(_ context.Context, image string) bool {
	return !f.invalid[image]
}

func (f *fakeTool) UnpackAVB(_ context.Context, image, dir string) error {
	data, err := os.ReadFile(image)
	if err != nil {
		return fmt.Errorf("avbroot: failed to open %s: %w", image, err)
	}

	name := strings.TrimSuffix(filepath.Base(image), imageExt)
	doc, ok := f.metadata[name]
	if !ok {
		// LP images carry the slot suffix.
		doc, ok = f.metadata[strings.TrimSuffix(name, slotSuffixA)]
	}
	if !ok {
		return fmt.Errorf("avbroot: no AVB metadata in %s", image)
	}

	if err := os.WriteFile(filepath.Join(dir, avbmeta.MetadataFile), []byte(doc), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, RawImageFile), data, 0o644)
}

func (f *fakeTool) PackAVB(_ context.Context, dir, output, key string, recomputeSize bool) error {
	name := filepath.Base(dir)
	if err, ok := f.failPack[name]; ok {
		return err
	}
	f.recomputeSize[name] = recomputeSize

	raw, err := os.ReadFile(filepath.Join(dir, RawImageFile))
	if err != nil {
		return fmt.Errorf("avbroot: failed to open raw.img: %w", err)
	}

	metaPath := filepath.Join(dir, avbmeta.MetadataFile)
	meta, err := avbmeta.Load(metaPath)
	if err != nil {
		return fmt.Errorf("avbroot: %w", err)
	}

	// Recompute payload-derived fields regardless of what was recorded.
	digest := fmt.Sprintf("%x", sha256.Sum256(raw))
	if d := meta.DescriptorFor(name); d != nil {
		d.RootDigest = &digest
	}
	if meta.IsSigned() {
		meta.Header.PublicKey = "PUB-" + name + "-" + key
	}
	if err := avbmeta.Save(metaPath, meta); err != nil {
		return err
	}

	return os.WriteFile(output, append([]byte("signed:"), raw...), 0o644)
}

func (f *fakeTool) VerifyAVB(_ context.Context, image, publicKey string) error {
	if _, err := os.Stat(publicKey); err != nil {
		return fmt.Errorf("avbroot: missing public key file: %w", err)
	}
	f.verified = append(f.verified, image)
	if f.failVerify {
		return errors.New("avbroot: signature verification failed")
	}
	return nil
}

func (f *fakeTool) EncodeAVBKey(_ context.Context, key, output string) error {
	return os.WriteFile(output, []byte("encoded:"+key), 0o644)
}

func (f *fakeTool) UnpackSparse(_ context.Context, input, output string, preserve bool) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("avbroot: failed to open %s: %w", input, err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if preserve {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(output, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (f *fakeTool) UnpackLP(_ context.Context, image, dir string) error {
	if _, err := os.Stat(image); err != nil {
		return fmt.Errorf("avbroot: failed to open %s: %w", image, err)
	}
	if err := os.WriteFile(filepath.Join(dir, avbmeta.LPMetadataFile), []byte(f.lpDocument), 0o644); err != nil {
		return err
	}

	imagesDir := filepath.Join(dir, lpImagesDir)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return err
	}
	for name, content := range f.lpImages {
		if err := os.WriteFile(filepath.Join(imagesDir, name+imageExt), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTool) PackLP(_ context.Context, dir, output string) error {
	if _, err := os.Stat(filepath.Join(dir, avbmeta.LPMetadataFile)); err != nil {
		return fmt.Errorf("avbroot: missing lp.toml: %w", err)
	}
	f.lpPacked = append(f.lpPacked, output)
	return os.WriteFile(output, []byte("lp-super"), 0o644)
}
