//go:build dev
// +build dev

package build

const (
	// Release is the release tag this binary was compiled with.
	Release = "dev"

	// DEBUG enables assertion panics. Developer builds keep them on.
	DEBUG = true
)
