// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for avbrepack.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"avbrepack/internal/config"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug output
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// cfg is the loaded configuration, populated before any RunE fires.
	cfg = &config.Config{}

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "avbrepack",
		Short: "Unpack and re-sign AVB images from xiaomi.eu fastboot zips",
		Long: TitleStyle.Render("avbrepack") + SubtitleStyle.Render(" - AVB image repacker for xiaomi.eu fastboot zips") + `

avbrepack unpacks the partition images of a fastboot zip into editable
(` + cmdStyle.Render("avb.toml") + `, ` + cmdStyle.Render("raw.img") + `) pairs and packs them back into images
signed with your own AVB key. All AVB parsing, hashing, and signing is
delegated to a locally installed ` + cmdStyle.Render("avbroot") + ` (>= 3.19.0).

` + SubtitleStyle.Render("Examples:") + `
  avbrepack unpack -i images -o unpacked
  avbrepack pack -i unpacked -o signed -k avb.key`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/avbrepack/config.toml)")

	// Add subcommands
	rootCmd.AddCommand(unpackCmd)
	rootCmd.AddCommand(packCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig reads in config file and ENV variables if set.
func initRootConfig() {
	if cfgFile != "" {
		config.SetConfigFilePathOverride(cfgFile)
	}

	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+err.Error())
		return
	}
	cfg = loaded

	if cfg.UI.Verbose {
		verbose = true
	}
}

// newLogger builds the status logger used by the pipelines. Status and
// warnings go to stderr so stdout stays clean.
func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "avbrepack",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}
