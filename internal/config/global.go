// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride allows tests to override the config directory.
var configDirOverride string

// configFileOverride allows the --config flag to point at a specific file.
var configFileOverride string

// Reset clears overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
	configFileOverride = ""
}

// SetConfigDirOverride sets a custom config directory path. Primarily for
// tests, to bypass os.UserHomeDir().
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// SetConfigFilePathOverride sets an explicit config file path.
func SetConfigFilePathOverride(path string) {
	configFileOverride = path
}
