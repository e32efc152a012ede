// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"avbrepack/internal/avbroot"
	"avbrepack/internal/repack"
)

var (
	// unpackInput is the fastboot images input directory
	unpackInput string
	// unpackOutput is the unpacked images output directory
	unpackOutput string
)

// unpackCmd unpacks a fastboot image directory into per-partition pairs
var unpackCmd = &cobra.Command{
	Use:   "unpack",
	Short: "Unpack fastboot partition images into editable pairs",
	Long: `Unpack a directory of fastboot partition images.

Each AVB-protected partition becomes a subdirectory holding:
  - ` + cmdStyle.Render("avb.toml") + `  the AVB metadata, editable
  - ` + cmdStyle.Render("raw.img") + `   the payload without the AVB appendix

vbmeta images are unpacked first (their descriptors name every protected
partition), split ` + cmdStyle.Render("super.img.*") + ` sparse chunks are joined and the dynamic
partitions inside extracted, then the remaining images follow. Input files
that are not partition images are skipped with a warning.

Examples:
  avbrepack unpack -i images -o unpacked`,
	RunE: runUnpack,
}

func init() {
	unpackCmd.Flags().StringVarP(&unpackInput, "input", "i", "", "fastboot images input directory")
	unpackCmd.Flags().StringVarP(&unpackOutput, "output", "o", "", "unpacked images output directory")
	_ = unpackCmd.MarkFlagRequired("input")
	_ = unpackCmd.MarkFlagRequired("output")
}

func runUnpack(cmd *cobra.Command, _ []string) error {
	tool, err := newTool(cmd)
	if err != nil {
		return err
	}

	unpacker := repack.NewUnpacker(tool, newLogger())
	return unpacker.Run(cmd.Context(), repack.UnpackOptions{
		InputDir:  unpackInput,
		OutputDir: unpackOutput,
	})
}

// newTool builds the avbroot CLI wrapper and enforces the minimum version.
func newTool(cmd *cobra.Command) (*avbroot.CLI, error) {
	var opts []avbroot.CLIOption
	if cfg.Avbroot.Path != "" {
		opts = append(opts, avbroot.WithBinaryPath(cfg.Avbroot.Path))
	}

	tool, err := avbroot.NewCLI(opts...)
	if err != nil {
		return nil, err
	}
	if !cfg.Avbroot.SkipVersionCheck {
		if err := tool.CheckVersion(cmd.Context()); err != nil {
			return nil, err
		}
	}
	return tool, nil
}
