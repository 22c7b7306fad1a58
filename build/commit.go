package build

// GitRevision and BuildTime are assigned with -ldflags by the Makefile.
var (
	// GitRevision is the git commit hash the binary was built from.
	GitRevision string
	// BuildTime is the date and time the build was completed.
	BuildTime string
)
