// SPDX-License-Identifier: MPL-2.0

package avbroot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultBinary is the executable name resolved on the search path when no
// explicit path is configured.
const DefaultBinary = "avbroot"

// ErrBinaryNotFound is the sentinel error wrapped by BinaryNotFoundError.
var ErrBinaryNotFound = errors.New("avbroot binary not found")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// CLIOption configures a CLI.
	CLIOption func(*CLI)

	// CLI drives the avbroot executable. Argument construction is split from
	// execution (the XxxArgs methods) so the subcommand contracts can be
	// tested without spawning processes.
	CLI struct {
		binaryPath  string
		execCommand ExecCommandFunc
		stdout      io.Writer
		stderr      io.Writer
	}

	// BinaryNotFoundError is returned when the avbroot executable cannot be
	// resolved on the search path.
	BinaryNotFoundError struct {
		Name string
	}
)

// Error implements the error interface.
func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("%s not found on PATH (is avbroot installed?)", e.Name)
}

// Unwrap returns ErrBinaryNotFound so callers can use errors.Is for programmatic detection.
func (e *BinaryNotFoundError) Unwrap() error { return ErrBinaryNotFound }

// WithBinaryPath overrides the resolved avbroot path.
func WithBinaryPath(path string) CLIOption {
	return func(c *CLI) { c.binaryPath = path }
}

// WithExecCommand overrides the exec.Cmd factory (used by tests).
func WithExecCommand(fn ExecCommandFunc) CLIOption {
	return func(c *CLI) { c.execCommand = fn }
}

// WithOutput redirects the subprocess stdout/stderr streams. Diagnostics from
// avbroot are passed through unmodified, so pointing stderr somewhere else is
// mainly useful in tests.
func WithOutput(stdout, stderr io.Writer) CLIOption {
	return func(c *CLI) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// NewCLI creates a CLI, resolving the avbroot binary on the search path
// unless WithBinaryPath overrides it.
func NewCLI(opts ...CLIOption) (*CLI, error) {
	path, _ := exec.LookPath(DefaultBinary)
	c := &CLI{
		binaryPath:  path,
		execCommand: exec.CommandContext,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.binaryPath == "" {
		return nil, &BinaryNotFoundError{Name: DefaultBinary}
	}
	return c, nil
}

// BinaryPath returns the resolved avbroot executable path.
func (c *CLI) BinaryPath() string {
	return c.binaryPath
}

// --- Argument builders ---

// VersionArgs constructs arguments for the version query.
func (c *CLI) VersionArgs() []string {
	return []string{"--version"}
}

// InfoArgs constructs arguments for an AVB metadata validity probe.
func (c *CLI) InfoArgs(image string) []string {
	return []string{"avb", "info", "--quiet", "--input", image}
}

// UnpackAVBArgs constructs arguments for extracting AVB metadata and payload.
// avbroot writes avb.toml and raw.img into its working directory, so the
// input image path must be absolute.
func (c *CLI) UnpackAVBArgs(image string) []string {
	return []string{"avb", "unpack", "--quiet", "--input", image, "--ignore-invalid"}
}

// PackAVBArgs constructs arguments for building and signing an AVB image from
// the working directory's avb.toml and raw.img. The metadata document is
// rewritten in place (--output-info) with the recomputed digests and
// signature so chained vbmeta images can pick them up afterwards.
func (c *CLI) PackAVBArgs(output, key, infoPath string, recomputeSize bool) []string {
	args := []string{
		"avb", "pack",
		"--quiet",
		"--output", output,
		"--key", key,
		"--output-info", infoPath,
	}
	if recomputeSize {
		args = append(args, "--recompute-size")
	}
	return args
}

// VerifyAVBArgs constructs arguments for verifying a trust chain rooted at image.
func (c *CLI) VerifyAVBArgs(image, publicKey string) []string {
	return []string{"avb", "verify", "--input", image, "--public-key", publicKey}
}

// EncodeKeyArgs constructs arguments for encoding a private key into the AVB
// public key format consumed by VerifyAVBArgs.
func (c *CLI) EncodeKeyArgs(key, output string) []string {
	return []string{"key", "encode-avb", "--key", key, "--output", output}
}

// UnpackSparseArgs constructs arguments for unsparsing an image. With
// preserve set, the output file is not truncated first, which is how split
// super.img.N chunks are joined into one raw image.
func (c *CLI) UnpackSparseArgs(input, output string, preserve bool) []string {
	args := []string{"sparse", "unpack", "--quiet", "--input", input, "--output", output}
	if preserve {
		args = append(args, "--preserve")
	}
	return args
}

// UnpackLPArgs constructs arguments for unpacking an LP (super) image into
// the working directory.
func (c *CLI) UnpackLPArgs(image string) []string {
	return []string{"lp", "unpack", "--quiet", "--input", image}
}

// PackLPArgs constructs arguments for packing the working directory's
// lp.toml and lp_images into an LP (super) image.
func (c *CLI) PackLPArgs(output string) []string {
	return []string{"lp", "pack", "--quiet", "--output", output}
}

// --- Execution ---

// IsAVBValid reports whether the image carries valid AVB metadata. Output is
// discarded; only the exit status matters.
func (c *CLI) IsAVBValid(ctx context.Context, image string) bool {
	cmd := c.execCommand(ctx, c.binaryPath, c.InfoArgs(image)...)
	return cmd.Run() == nil
}

// UnpackAVB extracts avb.toml and raw.img from image into dir.
func (c *CLI) UnpackAVB(ctx context.Context, image, dir string) error {
	abs, err := filepath.Abs(image)
	if err != nil {
		return fmt.Errorf("resolve image path %s: %w", image, err)
	}
	return c.runIn(ctx, dir, c.UnpackAVBArgs(abs)...)
}

// PackAVB builds and signs an AVB image from dir's avb.toml and raw.img,
// writing the image to output and the recomputed metadata back to dir's
// avb.toml. recomputeSize must be set for hash-tree (dynamic) partitions so
// avbroot re-derives the image size from the possibly edited payload.
func (c *CLI) PackAVB(ctx context.Context, dir, output, key string, recomputeSize bool) error {
	absOut, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("resolve output path %s: %w", output, err)
	}
	absKey, err := filepath.Abs(key)
	if err != nil {
		return fmt.Errorf("resolve key path %s: %w", key, err)
	}
	absInfo, err := filepath.Abs(filepath.Join(dir, "avb.toml"))
	if err != nil {
		return fmt.Errorf("resolve metadata path: %w", err)
	}
	return c.runIn(ctx, dir, c.PackAVBArgs(absOut, absKey, absInfo, recomputeSize)...)
}

// VerifyAVB verifies the trust chain rooted at image against an encoded
// public key file.
func (c *CLI) VerifyAVB(ctx context.Context, image, publicKey string) error {
	return c.run(ctx, c.VerifyAVBArgs(image, publicKey)...)
}

// EncodeAVBKey encodes the private key at key into AVB public key format at output.
func (c *CLI) EncodeAVBKey(ctx context.Context, key, output string) error {
	return c.run(ctx, c.EncodeKeyArgs(key, output)...)
}

// UnpackSparse unsparses input into output, preserving existing output
// contents when preserve is set.
func (c *CLI) UnpackSparse(ctx context.Context, input, output string, preserve bool) error {
	return c.run(ctx, c.UnpackSparseArgs(input, output, preserve)...)
}

// UnpackLP unpacks the LP image into dir (lp.toml plus an lp_images directory).
func (c *CLI) UnpackLP(ctx context.Context, image, dir string) error {
	abs, err := filepath.Abs(image)
	if err != nil {
		return fmt.Errorf("resolve image path %s: %w", image, err)
	}
	return c.runIn(ctx, dir, c.UnpackLPArgs(abs)...)
}

// PackLP packs dir's lp.toml and lp_images into an LP image at output.
func (c *CLI) PackLP(ctx context.Context, dir, output string) error {
	abs, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("resolve output path %s: %w", output, err)
	}
	return c.runIn(ctx, dir, c.PackLPArgs(abs)...)
}

// run executes avbroot with the process's own working directory.
func (c *CLI) run(ctx context.Context, args ...string) error {
	return c.runIn(ctx, "", args...)
}

// runIn executes avbroot with dir as the working directory. The subprocess
// streams are wired straight through so avbroot's own diagnostics reach the
// user unmodified.
func (c *CLI) runIn(ctx context.Context, dir string, args ...string) error {
	cmd := c.execCommand(ctx, c.binaryPath, args...)
	cmd.Dir = dir
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %s %s failed: %w", c.binaryPath, strings.Join(args, " "), err)
	}
	return nil
}

// runOutput executes avbroot and captures its stdout.
func (c *CLI) runOutput(ctx context.Context, args ...string) ([]byte, error) {
	cmd := c.execCommand(ctx, c.binaryPath, args...)
	cmd.Stderr = c.stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("command %s %s failed: %w", c.binaryPath, strings.Join(args, " "), err)
	}
	return out, nil
}
