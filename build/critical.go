package build

import (
	"fmt"
	"os"
	"runtime/debug"
)

// IssuesURL is where bug reports for panics triggered by sanity checks should
// be filed.
const IssuesURL = "https://github.com/water-bottle-afk/aurex/issues"

// Critical should be called if a sanity check has failed, indicating
// developer error. Critical is called with an extended message guiding the
// user to the issue tracker. If the program does not panic, the call stack
// for the running goroutine is printed to help determine the error.
func Critical(v ...interface{}) {
	s := "Critical error: " + fmt.Sprintln(v...) + "Please submit a bug report here: " + IssuesURL + "\n"
	if Release != "testing" {
		debug.PrintStack()
		os.Stderr.WriteString(s)
	}
	if DEBUG {
		panic(s)
	}
}

// Severe should be called if a severe problem has been encountered which
// warrants closing the program. Severe will print the call stack for the
// running goroutine unless the program is being run in testing mode.
func Severe(v ...interface{}) {
	s := "Severe error: " + fmt.Sprintln(v...)
	if Release != "testing" {
		debug.PrintStack()
		os.Stderr.WriteString(s)
	}
	if DEBUG {
		panic(s)
	}
}
