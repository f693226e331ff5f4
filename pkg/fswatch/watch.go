package fswatch

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/vitasync/vitasync/pkg/errors"
)

var fs = afero.NewOsFs()

// Watch watches for changes to files beneath `dir`. It sends an event on the
// returned channel whenever anything within the tree changes. Bursts of
// events are coalesced, so a reader that's slow to react sees a single event.
func Watch(dir string) (chan struct{}, error) {
	pathsToWatch, err := getPathsToWatch(dir)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}
	return combineUpdates(watcher.Events), nil
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// getPathsToWatch returns `dir` and every directory beneath it. fsnotify
// doesn't watch directories recursively, so each one is registered
// individually. Watching the directories is enough to catch file changes
// within them.
func getPathsToWatch(dir string) (paths []string, err error) {
	if _, err := fs.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: dir}
		}
		return nil, errors.WithContext(err, "stat")
	}

	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}
		if fi.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
