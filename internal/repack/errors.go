// SPDX-License-Identifier: MPL-2.0

package repack

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInputDir is the sentinel error wrapped by MissingInputDirError.
	ErrMissingInputDir = errors.New("input directory does not exist")

	// ErrMissingArtifact is the sentinel error wrapped by MissingArtifactError.
	ErrMissingArtifact = errors.New("partition artifact missing")

	// ErrDependencyFailed is the sentinel error wrapped by DependencyFailedError.
	ErrDependencyFailed = errors.New("chained partition failed")

	// ErrUnknownLPPartition is the sentinel error wrapped by UnknownLPPartitionError.
	ErrUnknownLPPartition = errors.New("unknown LP partition name")

	// ErrLPImageNotEmpty is the sentinel error wrapped by LPImageNotEmptyError.
	ErrLPImageNotEmpty = errors.New("inactive slot image not empty")

	// ErrNoCoveringDescriptor is the sentinel error wrapped by NoCoveringDescriptorError.
	ErrNoCoveringDescriptor = errors.New("no covering vbmeta descriptor")
)

type (
	// MissingInputDirError is returned when the pipeline's input directory
	// does not exist.
	MissingInputDirError struct {
		Path string
	}

	// MissingArtifactError is returned when a partition directory lacks one
	// of its two required artifacts (avb.toml or raw.img).
	MissingArtifactError struct {
		Partition string
		Path      string
	}

	// DependencyFailedError is returned for a vbmeta partition whose chained
	// child failed to pack, so its recomputed descriptor is unavailable.
	DependencyFailedError struct {
		Partition  string
		Dependency string
	}

	// UnknownLPPartitionError is returned when an lp.toml partition name has
	// neither the _a nor the _b slot suffix.
	UnknownLPPartitionError struct {
		Name string
	}

	// LPImageNotEmptyError is returned when an inactive (_b) slot image
	// unexpectedly contains data.
	LPImageNotEmptyError struct {
		Name string
		Size int64
	}

	// NoCoveringDescriptorError is returned during unpack when an LP image
	// has no AVB metadata of its own and no vbmeta descriptor to generate a
	// template from.
	NoCoveringDescriptorError struct {
		Partition string
	}

	// PartitionError wraps a per-partition failure with the partition name
	// for the aggregate pack report.
	PartitionError struct {
		Partition string
		Err       error
	}
)

// Error implements the error interface.
func (e *MissingInputDirError) Error() string {
	return fmt.Sprintf("input directory does not exist: %s", e.Path)
}

// Unwrap returns ErrMissingInputDir so callers can use errors.Is for programmatic detection.
func (e *MissingInputDirError) Unwrap() error { return ErrMissingInputDir }

// Error implements the error interface.
func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("partition %s: missing %s", e.Partition, e.Path)
}

// Unwrap returns ErrMissingArtifact so callers can use errors.Is for programmatic detection.
func (e *MissingArtifactError) Unwrap() error { return ErrMissingArtifact }

// Error implements the error interface.
func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("partition %s: chained partition %s failed to pack", e.Partition, e.Dependency)
}

// Unwrap returns ErrDependencyFailed so callers can use errors.Is for programmatic detection.
func (e *DependencyFailedError) Unwrap() error { return ErrDependencyFailed }

// Error implements the error interface.
func (e *UnknownLPPartitionError) Error() string {
	return fmt.Sprintf("unknown LP partition name: %s", e.Name)
}

// Unwrap returns ErrUnknownLPPartition so callers can use errors.Is for programmatic detection.
func (e *UnknownLPPartitionError) Unwrap() error { return ErrUnknownLPPartition }

// Error implements the error interface.
func (e *LPImageNotEmptyError) Error() string {
	return fmt.Sprintf("%s should be empty, has %d bytes", e.Name, e.Size)
}

// Unwrap returns ErrLPImageNotEmpty so callers can use errors.Is for programmatic detection.
func (e *LPImageNotEmptyError) Unwrap() error { return ErrLPImageNotEmpty }

// Error implements the error interface.
func (e *NoCoveringDescriptorError) Error() string {
	return fmt.Sprintf("partition %s: no AVB metadata and no covering vbmeta descriptor", e.Partition)
}

// Unwrap returns ErrNoCoveringDescriptor so callers can use errors.Is for programmatic detection.
func (e *NoCoveringDescriptorError) Unwrap() error { return ErrNoCoveringDescriptor }

// Error implements the error interface.
func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %s: %v", e.Partition, e.Err)
}

// Unwrap returns the underlying failure.
func (e *PartitionError) Unwrap() error { return e.Err }
