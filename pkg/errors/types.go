package errors

import (
	"fmt"
)

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// DirectoryInaccessible represents a remote directory that refused a listing
// or a change-directory command. It's recoverable: the subtree is skipped and
// the rest of the run proceeds.
type DirectoryInaccessible struct {
	Path string
	Err  error
}

func (err DirectoryInaccessible) Error() string {
	return fmt.Sprintf("directory %q is inaccessible: %s", err.Path, err.Err)
}
