package remote

import (
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vitasync/vitasync/pkg/errors"
)

// EpochZero is the modification time recorded for entries whose listing
// timestamp couldn't be parsed. It never compares equal to a real local
// timestamp, so such entries are always considered changed and re-transferred
// rather than silently skipped.
var EpochZero = time.Unix(0, 0)

// A Snapshot is the resolved contents of one remote directory at one instant:
// a name to modification-time mapping, plus a lazily-populated classification
// of each entry as file or directory.
//
// The listing protocol has no directory flag, so classification requires a
// probe against the session (see IsDirectory). A snapshot is only meaningful
// while the session still sits in the directory it was taken from.
type Snapshot struct {
	session  Session
	modTimes map[string]time.Time

	// kinds caches probe results so repeated queries within one listing
	// don't re-probe.
	kinds map[string]bool
}

// TakeSnapshot lists the session's current directory and parses it.
//
// Each listing line is free text: whitespace-delimited, the last field is the
// entry name, and fields 5..7 encode "Mon D HH:MM" without a year. Lines with
// fewer than 9 fields are dropped. A line whose timestamp doesn't parse keeps
// its entry with an EpochZero modification time.
//
// If the listing command itself is refused, TakeSnapshot returns an empty
// snapshot together with a DirectoryInaccessible error. Callers skip the
// subtree and continue; it's never fatal to the run.
func TakeSnapshot(session Session, clock clockwork.Clock) (*Snapshot, error) {
	snapshot := &Snapshot{
		session:  session,
		modTimes: map[string]time.Time{},
		kinds:    map[string]bool{},
	}

	lines, err := session.ListRaw()
	if err != nil {
		path, pwdErr := session.CurrentDirectory()
		if pwdErr != nil {
			path = "<unknown>"
		}
		return snapshot, errors.DirectoryInaccessible{Path: path, Err: err}
	}

	year := clock.Now().Year()
	for _, line := range lines {
		name, modTime, ok := parseListLine(line, year)
		if !ok {
			continue
		}
		snapshot.modTimes[name] = modTime
	}
	return snapshot, nil
}

// parseListLine extracts the entry name and modification time from one
// listing line. ok is false for lines that don't describe an entry at all:
// too few fields, or the "." and ".." pseudo-entries.
func parseListLine(line string, year int) (name string, modTime time.Time, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return "", time.Time{}, false
	}

	name = fields[len(fields)-1]
	if name == "." || name == ".." {
		return "", time.Time{}, false
	}

	stamp := strings.Join(fields[5:8], " ")
	parsed, err := time.ParseInLocation("Jan _2 15:04", stamp, time.Local)
	if err != nil {
		return name, EpochZero, true
	}

	modTime = time.Date(year, parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, time.Local)
	return name, modTime, true
}

// Names returns the entry names in sorted order so walks are deterministic.
func (snapshot *Snapshot) Names() []string {
	names := make([]string, 0, len(snapshot.modTimes))
	for name := range snapshot.modTimes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModTime returns the modification time of `name`, and whether the entry is
// present in the snapshot at all.
func (snapshot *Snapshot) ModTime(name string) (time.Time, bool) {
	modTime, ok := snapshot.modTimes[name]
	return modTime, ok
}

// IsDirectory classifies `name` by attempting to change into it: the server
// accepts the change for directories and rejects it for files. On success the
// original working directory is restored immediately, so the probe never
// leaves the cursor moved. Results are cached for the life of the snapshot.
//
// A failure to restore the working directory is the one non-recoverable
// outcome: the walk's position would be corrupt, so it's surfaced as an error
// rather than a classification.
func (snapshot *Snapshot) IsDirectory(name string) (bool, error) {
	if isDir, ok := snapshot.kinds[name]; ok {
		return isDir, nil
	}

	originalDir, err := snapshot.session.CurrentDirectory()
	if err != nil {
		return false, errors.WithContext(err, "get working directory")
	}

	if err := snapshot.session.ChangeDirectory(name); err != nil {
		snapshot.kinds[name] = false
		return false, nil
	}

	if err := snapshot.session.ChangeDirectory(originalDir); err != nil {
		return false, errors.WithContext(err, "restore working directory")
	}

	snapshot.kinds[name] = true
	return true, nil
}
