package remote

import (
	"io"
	"time"
)

// Session is a single authenticated connection to an FTP endpoint.
//
// The protocol is stateful: every session owns exactly one working-directory
// cursor, and every operation below is defined in terms of it. Because of
// that cursor, a session must never be used by two directory walks at once.
// Independent sessions are fully independent.
type Session interface {
	// ChangeDirectory moves the working-directory cursor. The path may be
	// a name relative to the current directory, "..", or an absolute path
	// (on the Vita, drive-prefixed paths like "ux0:/..." are absolute).
	ChangeDirectory(path string) error

	// CurrentDirectory reports the cursor without moving it.
	CurrentDirectory() (string, error)

	// ListRaw returns the raw listing lines for the current directory.
	// The cursor is unchanged.
	ListRaw() ([]string, error)

	// Fetch copies the contents of `name` in the current directory into
	// `sink`. The cursor is unchanged.
	Fetch(name string, sink io.Writer) error

	// Store replaces `name` in the current directory with the contents of
	// `source`. The cursor is unchanged.
	Store(name string, source io.Reader) error

	// SetModTime sets the modification time of `name` in the current
	// directory. The cursor is unchanged.
	SetModTime(name string, modTime time.Time) error

	// MakeDirectory creates `name`. The cursor is unchanged; callers enter
	// the new directory explicitly.
	MakeDirectory(name string) error

	// Close terminates the session.
	Close() error
}
