//go:build testing
// +build testing

package build

const (
	// Release is the release tag this binary was compiled with.
	Release = "testing"

	// DEBUG enables assertion panics. Tests always run with them on.
	DEBUG = true
)
