package sync

import (
	"path/filepath"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/vitasync/vitasync/pkg/errors"
	"github.com/vitasync/vitasync/pkg/progress"
	"github.com/vitasync/vitasync/pkg/remote"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Transfer copies files between one remote endpoint and the local filesystem.
// It owns the session for the duration of a walk: the session's working
// directory is the walk's position, so a Transfer must never run two walks
// concurrently.
type Transfer struct {
	Session remote.Session

	// Clock resolves listing timestamps, which are printed without a year.
	// A nil Clock means the real one.
	Clock clockwork.Clock

	// Progress receives one update per file visited. May be nil.
	Progress *progress.Meter

	// Ignore lists entry names that are never pulled or pushed.
	Ignore []string
}

// Pull mirrors the remote directory tree rooted at `remoteDir` into
// `stagingDir`. A file is skipped when `referenceDir` (the canonical tree
// from the previous run) holds a copy with exactly the remote modification
// time; everything else is fetched and its staged copy stamped with the
// remote time, which is the change signal the merge relies on.
//
// Inaccessible directories and failed fetches are logged and skipped; they
// never abort the walk. The session ends the call in the directory it
// started in.
func (transfer *Transfer) Pull(remoteDir, stagingDir, referenceDir string) error {
	if err := fs.MkdirAll(stagingDir, 0755); err != nil {
		return errors.WithContext(err, "create staging directory")
	}

	if err := transfer.Session.ChangeDirectory(remoteDir); err != nil {
		log.WithError(err).WithField("dir", remoteDir).
			Warn("Remote directory is inaccessible. Skipping it.")
		return nil
	}
	defer transfer.ascend()

	snapshot, err := remote.TakeSnapshot(transfer.Session, transfer.clock())
	if err != nil {
		log.WithError(err).WithField("dir", remoteDir).
			Warn("Failed to list remote directory. Skipping it.")
		return nil
	}

	for _, name := range snapshot.Names() {
		if transfer.ignored(name) {
			continue
		}

		isDir, err := snapshot.IsDirectory(name)
		if err != nil {
			// The probe couldn't restore the working directory, so the
			// walk's position is no longer trustworthy.
			return errors.WithContext(err, "classify "+name)
		}

		if isDir {
			err := transfer.Pull(name,
				filepath.Join(stagingDir, name), filepath.Join(referenceDir, name))
			if err != nil {
				return err
			}
			continue
		}

		transfer.pullFile(name, snapshot, stagingDir, referenceDir)
		transfer.Progress.Increment()
	}
	return nil
}

func (transfer *Transfer) pullFile(name string, snapshot *remote.Snapshot,
	stagingDir, referenceDir string) {

	remoteModTime, _ := snapshot.ModTime(name)

	// An epoch-zero time means the listing's timestamp didn't parse. It
	// reads as "unknown, always differs" so the file is re-fetched rather
	// than silently skipped.
	if !remoteModTime.Equal(remote.EpochZero) {
		reference, err := fs.Stat(filepath.Join(referenceDir, name))
		if err == nil && reference.ModTime().Equal(remoteModTime) {
			log.WithField("file", name).Debug("Skipping file: identical to the merged copy")
			return
		}
	}

	log.WithField("file", name).Debug("Pulling file")
	stagingPath := filepath.Join(stagingDir, name)
	staged, err := fs.Create(stagingPath)
	if err != nil {
		log.WithError(err).WithField("file", name).Warn("Failed to create staged file")
		return
	}

	fetchErr := transfer.Session.Fetch(name, staged)
	closeErr := staged.Close()
	if fetchErr != nil || closeErr != nil {
		if fetchErr == nil {
			fetchErr = closeErr
		}
		log.WithError(fetchErr).WithField("file", name).Warn("Failed to fetch file")

		// Remove the partial copy so it can't win the merge.
		if err := fs.Remove(stagingPath); err != nil {
			log.WithError(err).WithField("file", name).Warn("Failed to remove partial file")
		}
		return
	}

	if err := fs.Chtimes(stagingPath, remoteModTime, remoteModTime); err != nil {
		log.WithError(err).WithField("file", name).Warn("Failed to stamp staged file")
		if err := fs.Remove(stagingPath); err != nil {
			log.WithError(err).WithField("file", name).Warn("Failed to remove unstamped file")
		}
	}
}

// CountFiles walks `remoteDir` and returns the number of files beneath it.
// It feeds the progress meter's total before a pull. Inaccessible
// directories count as zero, matching what the pull will actually visit.
func (transfer *Transfer) CountFiles(remoteDir string) (int, error) {
	if err := transfer.Session.ChangeDirectory(remoteDir); err != nil {
		return 0, nil
	}
	defer transfer.ascend()

	snapshot, err := remote.TakeSnapshot(transfer.Session, transfer.clock())
	if err != nil {
		return 0, nil
	}

	total := 0
	for _, name := range snapshot.Names() {
		if transfer.ignored(name) {
			continue
		}

		isDir, err := snapshot.IsDirectory(name)
		if err != nil {
			return total, errors.WithContext(err, "classify "+name)
		}

		if isDir {
			children, err := transfer.CountFiles(name)
			if err != nil {
				return total, err
			}
			total += children
		} else {
			total++
		}
	}
	return total, nil
}

// ascend returns the session to the parent directory at the end of a
// directory's walk. It backs every descent, including ones whose directory
// turned out to be empty or entirely skipped.
func (transfer *Transfer) ascend() {
	if err := transfer.Session.ChangeDirectory(".."); err != nil {
		log.WithError(err).Error("Failed to return to the parent remote directory")
	}
}

func (transfer *Transfer) ignored(name string) bool {
	for _, ignored := range transfer.Ignore {
		if name == ignored {
			return true
		}
	}
	return false
}

func (transfer *Transfer) clock() clockwork.Clock {
	if transfer.Clock != nil {
		return transfer.Clock
	}
	return clockwork.NewRealClock()
}
