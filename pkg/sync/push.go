package sync

import (
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/vitasync/vitasync/pkg/errors"
	"github.com/vitasync/vitasync/pkg/remote"
)

// Push uploads the local directory tree rooted at `localDir` to `remoteDir`,
// creating remote directories as needed. The remote listing is taken once per
// directory; a file is uploaded only when it's absent from that listing or
// its remote modification time differs from the local one. Every upload is
// followed by an explicit remote modification-time set, so timestamp equality
// remains the identity test on the next run.
//
// Like Pull, per-entry failures are logged and skipped, and the session ends
// the call where it started.
func (transfer *Transfer) Push(localDir, remoteDir string) error {
	if err := transfer.Session.ChangeDirectory(remoteDir); err != nil {
		log.WithField("dir", remoteDir).Debug("Creating remote directory")
		if err := transfer.Session.MakeDirectory(remoteDir); err != nil {
			log.WithError(err).WithField("dir", remoteDir).
				Warn("Failed to create remote directory. Skipping it.")
			return nil
		}
		if err := transfer.Session.ChangeDirectory(remoteDir); err != nil {
			log.WithError(err).WithField("dir", remoteDir).
				Warn("Failed to enter remote directory. Skipping it.")
			return nil
		}
	}
	defer transfer.ascend()

	// A refused listing leaves the snapshot empty, which errs toward
	// re-uploading everything in the directory.
	snapshot, err := remote.TakeSnapshot(transfer.Session, transfer.clock())
	if err != nil {
		log.WithError(err).WithField("dir", remoteDir).
			Debug("Failed to list remote directory. Uploading all files.")
	}

	entries, err := afero.ReadDir(fs, localDir)
	if err != nil {
		return errors.WithContext(err, "read local directory")
	}

	for _, entry := range entries {
		name := entry.Name()
		if transfer.ignored(name) {
			continue
		}

		if entry.IsDir() {
			if err := transfer.Push(filepath.Join(localDir, name), name); err != nil {
				return err
			}
			continue
		}

		transfer.pushFile(name, entry.ModTime(), filepath.Join(localDir, name), snapshot)
		transfer.Progress.Increment()
	}
	return nil
}

func (transfer *Transfer) pushFile(name string, localModTime time.Time,
	localPath string, snapshot *remote.Snapshot) {

	remoteModTime, present := snapshot.ModTime(name)
	if present && !remoteModTime.Equal(remote.EpochZero) &&
		localModTime.Equal(remoteModTime) {
		log.WithField("file", name).Debug("Skipping file: identical on the endpoint")
		return
	}

	log.WithField("file", name).Debug("Pushing file")
	local, err := fs.Open(localPath)
	if err != nil {
		log.WithError(err).WithField("file", name).Warn("Failed to open local file")
		return
	}
	defer local.Close()

	if err := transfer.Session.Store(name, local); err != nil {
		log.WithError(err).WithField("file", name).Warn("Failed to upload file")
		return
	}

	// The upload itself stamps the file with the server's wall clock. Pin it
	// to the local time instead; otherwise every future run re-uploads.
	if err := transfer.Session.SetModTime(name, localModTime); err != nil {
		log.WithError(err).WithField("file", name).
			Warn("Failed to set the remote modification time. " +
				"The file will be re-uploaded on the next run.")
	}
}

// CountLocalFiles returns the number of files beneath `dir`, for the push
// progress total. Ignored names are excluded, like the push itself excludes
// them.
func CountLocalFiles(dir string, ignore []string) (int, error) {
	ignoredName := func(name string) bool {
		for _, ignored := range ignore {
			if name == ignored {
				return true
			}
		}
		return false
	}

	total := 0
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ignoredName(info.Name()) && path != dir {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			total++
		}
		return nil
	})
	if err != nil {
		return 0, errors.WithContext(err, "walk local tree")
	}
	return total, nil
}
