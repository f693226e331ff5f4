package util

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/vitasync/vitasync/pkg/errors"
)

// HandleFatalError prints the user-facing message for `err` and exits with a
// non-zero status. Friendly errors are printed verbatim; everything else gets
// the full context chain.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// HandlePanic recovers from panics in the calling goroutine so that we exit
// with a readable message rather than a raw interpreter dump.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	log.WithField("panic", r).Error("vitasync crashed due to an unexpected error")
	fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
	os.Exit(1)
}
