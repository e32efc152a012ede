// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"avbrepack/internal/repack"
)

var (
	// packInput is the unpacked images input directory
	packInput string
	// packOutput is the signed images output directory
	packOutput string
	// packKey is the AVB signing private key
	packKey string
)

// packCmd rebuilds signed AVB images from unpacked partition directories
var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack partition directories into signed AVB images",
	Long: `Pack unpacked partition directories back into signed images.

Each subdirectory holding ` + cmdStyle.Render("avb.toml") + ` and ` + cmdStyle.Render("raw.img") + ` becomes
` + cmdStyle.Render("<name>.img") + ` in the output directory, signed with the supplied key.
Digests and sizes recorded in avb.toml are advisory: avbroot recomputes
them from the (possibly edited) payload. Chained partitions pack before
the vbmeta images embedding them, and the fresh descriptors and public
keys are spliced into vbmeta before it is signed. When the input carries
a ` + cmdStyle.Render("super/lp.toml") + `, the dynamic partitions are reassembled into a new
super image.

A failed partition is reported and skipped; the rest still pack, and the
command exits non-zero if anything failed.

Examples:
  avbrepack pack -i unpacked -o signed -k avb.key`,
	RunE: runPack,
}

func init() {
	packCmd.Flags().StringVarP(&packInput, "input", "i", "", "unpacked images input directory")
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "signed images output directory")
	packCmd.Flags().StringVarP(&packKey, "key", "k", "", "AVB signing private key")
	_ = packCmd.MarkFlagRequired("input")
	_ = packCmd.MarkFlagRequired("output")
	_ = packCmd.MarkFlagRequired("key")
}

func runPack(cmd *cobra.Command, _ []string) error {
	tool, err := newTool(cmd)
	if err != nil {
		return err
	}

	packer := repack.NewPacker(tool, newLogger())
	err = packer.Run(cmd.Context(), repack.PackOptions{
		InputDir:  packInput,
		OutputDir: packOutput,
		KeyPath:   packKey,
		Verify:    cfg.Pack.Verify,
	})
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	return nil
}
