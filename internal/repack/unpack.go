// SPDX-License-Identifier: MPL-2.0

package repack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"avbrepack/internal/avbmeta"
)

const (
	// RawImageFile is the per-partition payload file name used by avbroot.
	RawImageFile = "raw.img"

	imageExt      = ".img"
	vbmetaPrefix  = "vbmeta"
	superBaseName = "super"
	superImage    = "super.img"
	lpImagesDir   = "lp_images"
	slotSuffixA   = "_a"
	slotSuffixB   = "_b"
)

type (
	// UnpackOptions are the unpack pipeline inputs.
	UnpackOptions struct {
		// InputDir holds the fastboot partition images.
		InputDir string
		// OutputDir receives one subdirectory per partition.
		OutputDir string
	}

	// Unpacker turns a fastboot image directory into per-partition
	// (avb.toml, raw.img) pairs. Processing is strictly sequential and
	// fails fast; only unrecognized input files are skipped.
	Unpacker struct {
		tool   Tool
		logger *log.Logger
	}
)

// NewUnpacker creates an Unpacker driving the given tool.
func NewUnpacker(tool Tool, logger *log.Logger) *Unpacker {
	return &Unpacker{tool: tool, logger: logger}
}

// Run executes the unpack pipeline. vbmeta images go first because their
// descriptors name every AVB-protected partition; then split super sparse
// chunks are joined and LP-unpacked; finally every remaining image, whether
// descriptor-covered or standalone, is unpacked. Input files that are not
// images are skipped with a warning.
func (u *Unpacker) Run(ctx context.Context, opts UnpackOptions) error {
	if _, err := os.Stat(opts.InputDir); err != nil {
		return &MissingInputDirError{Path: opts.InputDir}
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	entries, err := os.ReadDir(opts.InputDir)
	if err != nil {
		return fmt.Errorf("read input directory: %w", err)
	}

	var (
		vbmetaImages []string
		sparseChunks []string
		otherFiles   []string
	)
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir():
			u.logger.Warn("Skipping directory in input", "name", name)
		case strings.HasPrefix(name, vbmetaPrefix) && strings.HasSuffix(name, imageExt):
			vbmetaImages = append(vbmetaImages, name)
		case strings.HasPrefix(name, superImage+"."):
			sparseChunks = append(sparseChunks, name)
		default:
			otherFiles = append(otherFiles, name)
		}
	}
	sort.Strings(vbmetaImages)
	sort.Strings(sparseChunks)

	descriptors, err := u.unpackVbmeta(ctx, opts, vbmetaImages)
	if err != nil {
		return err
	}

	lpNames, err := u.unpackSuper(ctx, opts, sparseChunks, descriptors)
	if err != nil {
		return err
	}

	// The rest is the union of standalone images present in the input and
	// partitions the vbmeta descriptors cover, minus what already came out
	// of the vbmeta pass or super. A covered-but-absent partition is a real
	// error surfaced by the tool; a present-but-uncovered image is still
	// unpacked (its own AVB appendix is authoritative).
	unpacked := make(map[string]bool, len(vbmetaImages)+len(lpNames))
	for _, image := range vbmetaImages {
		unpacked[strings.TrimSuffix(image, imageExt)] = true
	}
	for name := range lpNames {
		unpacked[name] = true
	}

	remaining := make(map[string]bool)
	for name := range descriptors {
		if !unpacked[name] {
			remaining[name] = true
		}
	}
	for _, file := range otherFiles {
		if !strings.HasSuffix(file, imageExt) {
			u.logger.Warn("Skipping unrecognized input file", "file", file)
			continue
		}
		name := strings.TrimSuffix(file, imageExt)
		if !unpacked[name] {
			remaining[name] = true
		}
	}

	names := make([]string, 0, len(remaining))
	for name := range remaining {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := u.unpackImage(ctx, opts, name); err != nil {
			return err
		}
	}

	return nil
}

// unpackVbmeta unpacks every vbmeta image and collects the descriptors that
// name a partition, keyed by partition name.
func (u *Unpacker) unpackVbmeta(ctx context.Context, opts UnpackOptions, images []string) (map[string]avbmeta.Descriptor, error) {
	descriptors := make(map[string]avbmeta.Descriptor)

	for _, image := range images {
		name := strings.TrimSuffix(image, imageExt)
		if err := u.unpackImage(ctx, opts, name); err != nil {
			return nil, err
		}

		meta, err := avbmeta.Load(filepath.Join(opts.OutputDir, name, avbmeta.MetadataFile))
		if err != nil {
			return nil, err
		}
		for _, d := range meta.Header.Descriptors {
			if p := d.Partition(); p != "" {
				descriptors[p] = d
			}
		}
	}

	return descriptors, nil
}

// unpackImage runs the tool's AVB unpack for one input image into its own
// output subdirectory.
func (u *Unpacker) unpackImage(ctx context.Context, opts UnpackOptions, name string) error {
	image := filepath.Join(opts.InputDir, name+imageExt)
	dir := filepath.Join(opts.OutputDir, name)

	u.logger.Info("Unpacking AVB image", "image", image, "dir", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition directory: %w", err)
	}
	return u.tool.UnpackAVB(ctx, image, dir)
}

// unpackSuper joins split sparse chunks into one raw super image, LP-unpacks
// it, and unpacks (or templates) every dynamic partition it contains.
// Returns the set of partition names that came out of super.
func (u *Unpacker) unpackSuper(ctx context.Context, opts UnpackOptions, chunks []string, descriptors map[string]avbmeta.Descriptor) (map[string]bool, error) {
	lpNames := make(map[string]bool)
	if len(chunks) == 0 {
		return lpNames, nil
	}

	joined := filepath.Join(opts.OutputDir, superImage)

	// A stale joined image from an earlier run may carry data in its holes;
	// start from scratch.
	if err := os.Remove(joined); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale super image: %w", err)
	}

	for _, chunk := range chunks {
		input := filepath.Join(opts.InputDir, chunk)
		u.logger.Info("Unpacking sparse image", "image", input, "output", joined)
		if err := u.tool.UnpackSparse(ctx, input, joined, true); err != nil {
			return nil, err
		}
	}

	superDir := filepath.Join(opts.OutputDir, superBaseName)
	if err := os.MkdirAll(superDir, 0o755); err != nil {
		return nil, fmt.Errorf("create super directory: %w", err)
	}

	u.logger.Info("Unpacking LP image", "image", joined, "dir", superDir)
	if err := u.tool.UnpackLP(ctx, joined, superDir); err != nil {
		return nil, err
	}
	if err := os.Remove(joined); err != nil {
		return nil, fmt.Errorf("remove joined super image: %w", err)
	}

	lpMeta, err := avbmeta.LoadLP(filepath.Join(superDir, avbmeta.LPMetadataFile))
	if err != nil {
		return nil, err
	}

	imagesDir := filepath.Join(superDir, lpImagesDir)
	for _, part := range lpMeta.SlotPartitions() {
		lpImage := filepath.Join(imagesDir, part.Name+imageExt)

		switch {
		case strings.HasSuffix(part.Name, slotSuffixB):
			// Inactive slot images are placeholders.
			info, err := os.Stat(lpImage)
			if err != nil {
				return nil, fmt.Errorf("stat LP image: %w", err)
			}
			if info.Size() != 0 {
				return nil, &LPImageNotEmptyError{Name: part.Name, Size: info.Size()}
			}

		case strings.HasSuffix(part.Name, slotSuffixA):
			name := strings.TrimSuffix(part.Name, slotSuffixA)
			if err := u.unpackLPPartition(ctx, opts, name, lpImage, descriptors); err != nil {
				return nil, err
			}
			lpNames[name] = true

		default:
			return nil, &UnknownLPPartitionError{Name: part.Name}
		}
	}

	if err := os.RemoveAll(imagesDir); err != nil {
		return nil, fmt.Errorf("remove LP staging directory: %w", err)
	}

	return lpNames, nil
}

// unpackLPPartition handles one active-slot dynamic partition. Images with
// their own AVB appendix are unpacked normally; images verified purely via
// vbmeta get template metadata generated from their covering descriptor and
// the payload moved into place untouched.
func (u *Unpacker) unpackLPPartition(ctx context.Context, opts UnpackOptions, name, lpImage string, descriptors map[string]avbmeta.Descriptor) error {
	dir := filepath.Join(opts.OutputDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition directory: %w", err)
	}

	if u.tool.IsAVBValid(ctx, lpImage) {
		u.logger.Info("Unpacking AVB image", "image", lpImage, "dir", dir)
		return u.tool.UnpackAVB(ctx, lpImage, dir)
	}

	covering, ok := descriptors[name]
	if !ok {
		return &NoCoveringDescriptorError{Partition: name}
	}

	u.logger.Info("Generating AVB metadata", "partition", name)
	if err := avbmeta.Save(filepath.Join(dir, avbmeta.MetadataFile), avbmeta.NewTemplate(covering)); err != nil {
		return err
	}
	if err := os.Rename(lpImage, filepath.Join(dir, RawImageFile)); err != nil {
		return fmt.Errorf("move LP payload: %w", err)
	}
	return nil
}
