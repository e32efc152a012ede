// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with TOML as
// the file format.
//
// Configuration is loaded from ~/.config/avbrepack/config.toml (or the XDG
// equivalent) and the AVBREPACK_* environment variables. Everything here is
// an escape hatch, not a pipeline input: directories and the signing key are
// always explicit command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "avbrepack"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
)

type (
	// Config holds the application settings.
	Config struct {
		// Avbroot configures how the external avbroot binary is located and
		// version-gated.
		Avbroot AvbrootConfig
		// Pack configures the pack pipeline.
		Pack PackConfig
		// UI configures output behavior.
		UI UIConfig
	}

	// AvbrootConfig configures the external tool invocation.
	AvbrootConfig struct {
		// Path overrides search-path resolution of the avbroot binary.
		Path string
		// SkipVersionCheck disables the minimum-version gate. Only useful
		// when running against a patched avbroot build.
		SkipVersionCheck bool
	}

	// PackConfig configures the pack pipeline.
	PackConfig struct {
		// Verify runs trust-chain verification after packing (default true).
		Verify bool
	}

	// UIConfig configures output behavior.
	UIConfig struct {
		// Verbose enables debug-level logging.
		Verbose bool
	}
)

// ConfigDir returns the avbrepack configuration directory:
// $XDG_CONFIG_HOME/avbrepack, defaulting to ~/.config/avbrepack.
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

// Load reads the config file (if present) and environment, returning the
// effective settings. A missing config file is not an error; a malformed one
// is.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType(ConfigFileExt)

	if configFileOverride != "" {
		v.SetConfigFile(configFileOverride)
	} else {
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("avbroot.path", "")
	v.SetDefault("avbroot.skip_version_check", false)
	v.SetDefault("pack.verify", true)
	v.SetDefault("ui.verbose", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Config{
		Avbroot: AvbrootConfig{
			Path:             v.GetString("avbroot.path"),
			SkipVersionCheck: v.GetBool("avbroot.skip_version_check"),
		},
		Pack: PackConfig{
			Verify: v.GetBool("pack.verify"),
		},
		UI: UIConfig{
			Verbose: v.GetBool("ui.verbose"),
		},
	}, nil
}
