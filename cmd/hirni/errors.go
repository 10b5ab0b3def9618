package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	errorPrefix   = color.New(color.FgRed, color.Bold).SprintFunc()
	hintPrefix    = color.New(color.FgCyan).SprintFunc()
	warningPrefix = color.New(color.FgYellow).SprintFunc()
)

// exit is replaced in tests.
var exit = os.Exit

// FatalError writes an error message to stderr and exits with code 1.
// Under --json the message is written as a JSON error object instead.
func FatalError(format string, args ...interface{}) {
	if jsonOutput {
		outputJSONError(fmt.Errorf(format, args...), "")
		return
	}
	fmt.Fprintf(os.Stderr, "%s "+format+"\n", append([]interface{}{errorPrefix("Error:")}, args...)...)
	shutdown()
	exit(1)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
//
// Example:
//
//	FatalErrorWithHint("not a dataset", "Run inside a dataset or pass --dataset")
func FatalErrorWithHint(message, hint string) {
	if jsonOutput {
		outputJSONError(fmt.Errorf("%s", message), "")
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", errorPrefix("Error:"), message)
	fmt.Fprintf(os.Stderr, "%s %s\n", hintPrefix("Hint:"), hint)
	shutdown()
	exit(1)
}

// WarnError writes a warning message to stderr and returns.
// Use this for optional operations such as result publishing.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s "+format+"\n", append([]interface{}{warningPrefix("Warning:")}, args...)...)
}
