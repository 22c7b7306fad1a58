//go:build !testing && !dev
// +build !testing,!dev

package build

const (
	// Release is the release tag this binary was compiled with.
	Release = "standard"

	// DEBUG enables assertion panics. It is off for standard releases.
	DEBUG = false
)
