package persist

import (
	"encoding/base32"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"gitlab.com/NebulousLabs/fastrand"

	"github.com/water-bottle-afk/aurex/build"
)

const (
	// tempSuffix is the suffix given to temporary files that have not yet
	// been fully written to disk.
	tempSuffix = "_temp"
)

var (
	// ErrBadFilenameSuffix indicates that a filename is invalid because it
	// ends with the persist temp suffix.
	ErrBadFilenameSuffix = errors.New("filename suffix not allowed")

	// ErrBadHeader indicates that the file opened is not the file that was
	// expected.
	ErrBadHeader = errors.New("wrong header")

	// ErrBadVersion indicates that the version number of the file is not
	// compatible with the current codebase.
	ErrBadVersion = errors.New("incompatible version")

	// ErrFileInUse is returned if a file is accessed by multiple threads
	// simultaneously.
	ErrFileInUse = errors.New("another thread is saving or loading this file")
)

var (
	// activeFiles tracks the filenames of files that are currently being
	// saved or loaded, to catch concurrent access to the same file.
	activeFiles   = make(map[string]struct{})
	activeFilesMu sync.Mutex
)

// Metadata contains the header and version of the data being stored.
type Metadata struct {
	Header, Version string
}

// HomeFolder is the directory where all aurex daemons keep their state by
// default. During testing a directory under the testing root is used
// instead.
var HomeFolder = func() string {
	if build.Release == "testing" {
		return filepath.Join(build.AurexTestingDir, "home")
	}
	home, err := homedir.Dir()
	if err != nil {
		return ".aurex"
	}
	return filepath.Join(home, ".aurex")
}()

// RandomSuffix returns a 20 character base32 suffix for a filename. There
// are 100 bits of entropy, and a very low probability of colliding with
// existing files unintentionally.
func RandomSuffix() string {
	str := base32.StdEncoding.EncodeToString(fastrand.Bytes(20))
	return str[:20]
}

// MkdirAll creates dir and its parents with permissions restricted to the
// owning user.
func MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0700)
}
