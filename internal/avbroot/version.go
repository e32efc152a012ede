// SPDX-License-Identifier: MPL-2.0

package avbroot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RequiredVersion is the minimum avbroot version this tool works with.
// Older releases mishandle --output-info and sparse --preserve joins.
var RequiredVersion = Version{Major: 3, Minor: 19, Patch: 0}

var (
	// ErrVersionTooOld is the sentinel error wrapped by VersionTooOldError.
	ErrVersionTooOld = errors.New("avbroot version too old")

	// ErrMalformedVersion is the sentinel error wrapped by MalformedVersionError.
	ErrMalformedVersion = errors.New("malformed avbroot version")
)

type (
	// Version is a semantic avbroot release version.
	Version struct {
		Major int
		Minor int
		Patch int
	}

	// VersionTooOldError is returned when the installed avbroot predates
	// RequiredVersion.
	VersionTooOldError struct {
		Installed Version
		Required  Version
	}

	// MalformedVersionError is returned when avbroot's version output cannot
	// be parsed.
	MalformedVersionError struct {
		Output string
	}
)

// String returns the dotted version string.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 if v is older than, equal to, or newer than other.
func (v Version) Compare(other Version) int {
	if c := cmpInt(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmpInt(v.Minor, other.Minor); c != 0 {
		return c
	}
	return cmpInt(v.Patch, other.Patch)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Error implements the error interface.
func (e *VersionTooOldError) Error() string {
	return fmt.Sprintf("avbroot version %s < required %s", e.Installed, e.Required)
}

// Unwrap returns ErrVersionTooOld so callers can use errors.Is for programmatic detection.
func (e *VersionTooOldError) Unwrap() error { return ErrVersionTooOld }

// Error implements the error interface.
func (e *MalformedVersionError) Error() string {
	return fmt.Sprintf("cannot parse avbroot version from %q", e.Output)
}

// Unwrap returns ErrMalformedVersion so callers can use errors.Is for programmatic detection.
func (e *MalformedVersionError) Unwrap() error { return ErrMalformedVersion }

// ParseVersion parses avbroot's --version output ("avbroot 3.19.0").
func ParseVersion(output string) (Version, error) {
	s := strings.TrimSpace(output)
	s = strings.TrimPrefix(s, "avbroot")
	s = strings.TrimSpace(s)

	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, &MalformedVersionError{Output: output}
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, &MalformedVersionError{Output: output}
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Version queries the installed avbroot release.
func (c *CLI) Version(ctx context.Context) (Version, error) {
	out, err := c.runOutput(ctx, c.VersionArgs()...)
	if err != nil {
		return Version{}, err
	}
	return ParseVersion(string(out))
}

// CheckVersion fails when the installed avbroot is older than RequiredVersion.
func (c *CLI) CheckVersion(ctx context.Context) error {
	installed, err := c.Version(ctx)
	if err != nil {
		return err
	}
	if installed.Compare(RequiredVersion) < 0 {
		return &VersionTooOldError{Installed: installed, Required: RequiredVersion}
	}
	return nil
}
