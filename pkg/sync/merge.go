package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/vitasync/vitasync/pkg/errors"
)

// Merge folds every file under `sourceDir` into `canonicalDir` with
// last-modification-wins semantics: a source file is copied over its
// canonical counterpart only when the counterpart is absent or strictly
// older. The copy carries the source's modification time, not the wall-clock
// time of the copy itself.
//
// The rule is monotone -- a canonical file's timestamp never decreases -- and
// therefore commutative across staging trees: merging tree A then tree B
// yields the same canonical tree as B then A. Directories are created on
// demand and nothing is ever deleted.
func Merge(sourceDir, canonicalDir string) error {
	return afero.Walk(fs, sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relativePath, err := filepath.Rel(sourceDir, path)
		if err != nil || strings.HasPrefix(relativePath, "..") {
			return errors.WithContext(err, "normalized path")
		}
		canonicalPath := filepath.Join(canonicalDir, relativePath)

		if info.IsDir() {
			if err := fs.MkdirAll(canonicalPath, 0755); err != nil {
				return errors.WithContext(err, "create directory")
			}
			return nil
		}

		canonical, err := fs.Stat(canonicalPath)
		if err == nil && !info.ModTime().After(canonical.ModTime()) {
			// Canonical is at least as new. It's authoritative and is
			// never regressed.
			return nil
		}

		if err := copyFile(path, canonicalPath, info.ModTime()); err != nil {
			return errors.WithContext(err, fmt.Sprintf("merge %q", relativePath))
		}
		return nil
	})
}

func copyFile(sourcePath, destinationPath string, modTime time.Time) error {
	source, err := fs.Open(sourcePath)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer source.Close()

	destination, err := fs.Create(destinationPath)
	if err != nil {
		return errors.WithContext(err, "create destination")
	}

	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return errors.WithContext(err, "copy contents")
	}
	if err := destination.Close(); err != nil {
		return errors.WithContext(err, "close destination")
	}

	return fs.Chtimes(destinationPath, modTime, modTime)
}
