// SPDX-License-Identifier: MPL-2.0

package repack

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"avbrepack/internal/avbmeta"
	"avbrepack/internal/dag"
)

type (
	// PackOptions are the pack pipeline inputs.
	PackOptions struct {
		// InputDir holds one subdirectory per partition (avb.toml, raw.img).
		InputDir string
		// OutputDir receives the signed images.
		OutputDir string
		// KeyPath is the AVB signing private key, passed through to the tool.
		KeyPath string
		// Verify runs a trust-chain verification against vbmeta.img after
		// packing.
		Verify bool
	}

	// Packer rebuilds signed AVB images from unpacked partition directories.
	// Partitions are packed in chain-dependency order, each one in isolation:
	// a failure is recorded and reported but does not stop the rest, except
	// for vbmeta images whose chained children failed.
	Packer struct {
		tool   Tool
		logger *log.Logger
	}

	// packState carries the recomputed metadata collected while packing, so
	// later vbmeta images can embed fresh descriptors and public keys.
	packState struct {
		failed      map[string]error
		descriptors map[string]avbmeta.Descriptor
		publicKeys  map[string]string
	}
)

// NewPacker creates a Packer driving the given tool.
func NewPacker(tool Tool, logger *log.Logger) *Packer {
	return &Packer{tool: tool, logger: logger}
}

// Run executes the pack pipeline and returns an aggregate error describing
// every failed partition, or nil when everything packed.
func (p *Packer) Run(ctx context.Context, opts PackOptions) error {
	if _, err := os.Stat(opts.InputDir); err != nil {
		return &MissingInputDirError{Path: opts.InputDir}
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	order, state, err := p.planOrder(opts)
	if err != nil {
		return err
	}

	for _, name := range order {
		if _, already := state.failed[name]; already {
			continue
		}
		if err := p.packPartition(ctx, opts, name, state); err != nil {
			p.logger.Error("Packing failed", "partition", name, "err", err)
			state.failed[name] = err
		}
	}

	var result *multierror.Error
	for name, err := range state.failed {
		result = multierror.Append(result, &PartitionError{Partition: name, Err: err})
	}

	if opts.Verify {
		if err := p.verifyChain(ctx, opts, state); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := p.assembleSuper(ctx, opts, state); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// planOrder discovers the partition directories and topologically sorts them
// over their chain references so children pack before the vbmeta images that
// embed them. Directories whose avb.toml cannot be parsed are recorded as
// failed up front and excluded from ordering.
func (p *Packer) planOrder(opts PackOptions) ([]string, *packState, error) {
	matches, err := filepath.Glob(filepath.Join(opts.InputDir, "*", avbmeta.MetadataFile))
	if err != nil {
		return nil, nil, fmt.Errorf("scan input directory: %w", err)
	}

	state := &packState{
		failed:      make(map[string]error),
		descriptors: make(map[string]avbmeta.Descriptor),
		publicKeys:  make(map[string]string),
	}

	discovered := make(map[string]bool, len(matches))
	deps := make(map[string][]string, len(matches))
	for _, match := range matches {
		name := filepath.Base(filepath.Dir(match))
		discovered[name] = true

		meta, err := avbmeta.Load(match)
		if err != nil {
			state.failed[name] = err
			continue
		}
		deps[name] = meta.ChainedPartitions(name)
	}

	graph := dag.New()
	for name := range discovered {
		graph.AddPartition(name)
	}
	for name, chained := range deps {
		for _, dep := range chained {
			if discovered[dep] {
				graph.AddDependency(name, dep)
			}
		}
	}

	order, err := graph.PackOrder()
	if err != nil {
		return nil, nil, err
	}
	return order, state, nil
}

// packPartition packs one partition directory into a signed image and records
// its recomputed descriptor and public key for dependent vbmeta images.
func (p *Packer) packPartition(ctx context.Context, opts PackOptions, name string, state *packState) error {
	dir := filepath.Join(opts.InputDir, name)
	metaPath := filepath.Join(dir, avbmeta.MetadataFile)
	rawPath := filepath.Join(dir, RawImageFile)
	output := filepath.Join(opts.OutputDir, name+imageExt)

	if _, err := os.Stat(rawPath); err != nil {
		return &MissingArtifactError{Partition: name, Path: rawPath}
	}

	meta, err := avbmeta.Load(metaPath)
	if err != nil {
		return err
	}

	if strings.HasPrefix(name, vbmetaPrefix) {
		if err := p.refreshVbmeta(name, meta, state); err != nil {
			return err
		}
		if err := avbmeta.Save(metaPath, meta); err != nil {
			return err
		}
	}

	p.logger.Info("Packing AVB image", "dir", dir, "output", output)

	// Hash-tree partitions are dynamic; their size must be re-derived from
	// the possibly edited payload.
	if err := p.tool.PackAVB(ctx, dir, output, opts.KeyPath, meta.HasHashTree()); err != nil {
		return err
	}

	// avb.toml now holds the recomputed digests and signature.
	updated, err := avbmeta.Load(metaPath)
	if err != nil {
		return err
	}
	if d := updated.DescriptorFor(name); d != nil {
		state.descriptors[name] = *d
	}
	if updated.IsSigned() {
		state.publicKeys[name] = updated.Header.PublicKey
	}
	return nil
}

// refreshVbmeta splices the recomputed child metadata into a vbmeta document
// before signing: signed children contribute their fresh public key to the
// chain descriptor, unsigned children replace their whole hash or hash-tree
// descriptor. Verification-disable flags are cleared so the repacked chain
// is enforced.
func (p *Packer) refreshVbmeta(name string, meta *avbmeta.Metadata, state *packState) error {
	for i := range meta.Header.Descriptors {
		d := &meta.Header.Descriptors[i]
		child := d.Partition()
		if child == "" || child == name {
			continue
		}

		if _, failed := state.failed[child]; failed {
			return &DependencyFailedError{Partition: name, Dependency: child}
		}

		if key, ok := state.publicKeys[child]; ok {
			d.PublicKey = &key
			continue
		}
		if recomputed, ok := state.descriptors[child]; ok {
			meta.Header.Descriptors[i] = recomputed
			continue
		}

		// The referenced partition is not part of this input directory
		// (its recorded descriptor stays as unpacked).
		p.logger.Warn("Chained partition not in input, keeping recorded descriptor",
			"vbmeta", name, "partition", child)
	}

	meta.EnableVerification()
	return nil
}

// verifyChain checks the full trust chain rooted at vbmeta.img with the
// supplied key. Skipped when no vbmeta image was packed.
func (p *Packer) verifyChain(ctx context.Context, opts PackOptions, state *packState) error {
	root := filepath.Join(opts.OutputDir, vbmetaPrefix+imageExt)
	if _, err := os.Stat(root); err != nil {
		return nil
	}
	if _, failed := state.failed[vbmetaPrefix]; failed {
		return nil
	}

	p.logger.Info("Verifying AVB signatures", "image", root)

	encoded, err := os.CreateTemp("", "avbrepack-pubkey-*")
	if err != nil {
		return fmt.Errorf("create public key temp file: %w", err)
	}
	encodedPath := encoded.Name()
	encoded.Close()
	defer os.Remove(encodedPath)

	if err := p.tool.EncodeAVBKey(ctx, opts.KeyPath, encodedPath); err != nil {
		return err
	}
	return p.tool.VerifyAVB(ctx, root, encodedPath)
}

// assembleSuper rebuilds the LP super image when the input directory carries
// super/lp.toml: packed dynamic partition images move into the LP staging
// layout, inactive slot placeholders are created empty, and the tool packs
// the result into super.img. Without super/lp.toml this is a no-op.
func (p *Packer) assembleSuper(ctx context.Context, opts PackOptions, state *packState) error {
	srcLP := filepath.Join(opts.InputDir, superBaseName, avbmeta.LPMetadataFile)
	if _, err := os.Stat(srcLP); err != nil {
		return nil
	}

	superDir := filepath.Join(opts.OutputDir, superBaseName)
	imagesDir := filepath.Join(superDir, lpImagesDir)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return fmt.Errorf("create LP staging directory: %w", err)
	}

	dstLP := filepath.Join(superDir, avbmeta.LPMetadataFile)
	if err := copyFile(srcLP, dstLP); err != nil {
		return fmt.Errorf("copy LP metadata: %w", err)
	}

	lpMeta, err := avbmeta.LoadLP(dstLP)
	if err != nil {
		return err
	}

	for _, part := range lpMeta.SlotPartitions() {
		lpImage := filepath.Join(imagesDir, part.Name+imageExt)

		switch {
		case strings.HasSuffix(part.Name, slotSuffixA):
			name := strings.TrimSuffix(part.Name, slotSuffixA)
			if _, failed := state.failed[name]; failed {
				return &DependencyFailedError{Partition: superBaseName, Dependency: name}
			}
			packed := filepath.Join(opts.OutputDir, name+imageExt)
			if err := os.Rename(packed, lpImage); err != nil {
				return fmt.Errorf("stage LP image %s: %w", part.Name, err)
			}

		case strings.HasSuffix(part.Name, slotSuffixB):
			f, err := os.Create(lpImage)
			if err != nil {
				return fmt.Errorf("create empty LP image %s: %w", part.Name, err)
			}
			f.Close()

		default:
			return &UnknownLPPartitionError{Name: part.Name}
		}
	}

	output := filepath.Join(opts.OutputDir, superImage)
	p.logger.Info("Packing LP image", "dir", superDir, "output", output)
	if err := p.tool.PackLP(ctx, superDir, output); err != nil {
		return err
	}

	if err := os.RemoveAll(superDir); err != nil {
		return fmt.Errorf("remove LP staging directory: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
