package sync

import (
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitasync/vitasync/pkg/errors"
)

// mockSession simulates an FTP endpoint on top of an in-memory filesystem.
// It renders listings in the server's free-text format, so the transfer
// engine exercises the real parsing and probing paths.
type mockSession struct {
	remoteFs afero.Fs
	cwd      string

	// listErrs marks directories whose listing command is refused.
	listErrs map[string]error

	// failFetches marks files whose RETR is refused.
	failFetches map[string]bool

	// garbledTimes marks files listed with an unparseable timestamp.
	garbledTimes map[string]bool

	fetches int
	stores  int
}

func newMockSession() *mockSession {
	remoteFs := afero.NewMemMapFs()
	remoteFs.MkdirAll("/savedata", 0755)
	return &mockSession{
		remoteFs:     remoteFs,
		cwd:          "/",
		listErrs:     map[string]error{},
		failFetches:  map[string]bool{},
		garbledTimes: map[string]bool{},
	}
}

func (session *mockSession) resolve(path string) string {
	switch {
	case path == "..":
		return filepath.Dir(session.cwd)
	case filepath.IsAbs(path):
		return path
	default:
		return filepath.Join(session.cwd, path)
	}
}

func (session *mockSession) ChangeDirectory(path string) error {
	target := session.resolve(path)
	info, err := session.remoteFs.Stat(target)
	if err != nil || !info.IsDir() {
		return errors.New("550 CWD failed")
	}
	session.cwd = target
	return nil
}

func (session *mockSession) CurrentDirectory() (string, error) {
	return session.cwd, nil
}

func (session *mockSession) ListRaw() ([]string, error) {
	if err := session.listErrs[session.cwd]; err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(session.remoteFs, session.cwd)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, info := range infos {
		kind := byte('-')
		if info.IsDir() {
			kind = 'd'
		}
		stamp := info.ModTime().Format("Jan _2 15:04")
		if session.garbledTimes[info.Name()] {
			stamp = "??? ?? ??:??"
		}
		lines = append(lines, fmt.Sprintf("%crw-r--r-- 1 ftp ftp %8d %s %s",
			kind, info.Size(), stamp, info.Name()))
	}
	return lines, nil
}

func (session *mockSession) Fetch(name string, sink io.Writer) error {
	if session.failFetches[name] {
		return errors.New("550 RETR failed")
	}

	file, err := session.remoteFs.Open(filepath.Join(session.cwd, name))
	if err != nil {
		return err
	}
	defer file.Close()

	session.fetches++
	_, err = io.Copy(sink, file)
	return err
}

func (session *mockSession) Store(name string, source io.Reader) error {
	file, err := session.remoteFs.Create(filepath.Join(session.cwd, name))
	if err != nil {
		return err
	}

	session.stores++
	if _, err := io.Copy(file, source); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (session *mockSession) SetModTime(name string, modTime time.Time) error {
	return session.remoteFs.Chtimes(filepath.Join(session.cwd, name), modTime, modTime)
}

func (session *mockSession) MakeDirectory(name string) error {
	return session.remoteFs.Mkdir(session.resolve(name), 0755)
}

func (session *mockSession) Close() error {
	return nil
}

func (session *mockSession) write(t *testing.T, path, contents string, modTime time.Time) {
	require.NoError(t, session.remoteFs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(session.remoteFs, path, []byte(contents), 0644))
	require.NoError(t, session.remoteFs.Chtimes(path, modTime, modTime))
}

var testBase = time.Date(2021, time.March, 14, 15, 0, 0, 0, time.Local)

func minute(n int) time.Time {
	return testBase.Add(time.Duration(n) * time.Minute)
}

func testClock() clockwork.Clock {
	return clockwork.NewFakeClockAt(testBase)
}

func writeLocal(t *testing.T, path, contents string, modTime time.Time) {
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(contents), 0644))
	require.NoError(t, fs.Chtimes(path, modTime, modTime))
}

func assertLocalFile(t *testing.T, path, contents string, modTime time.Time) {
	actual, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, contents, string(actual))

	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modTime),
		"mtime of %s: expected %s, got %s", path, modTime, info.ModTime())
}

func TestPullThenMergeThenPullAgain(t *testing.T) {
	fs = afero.NewMemMapFs()

	session := newMockSession()
	session.write(t, "/savedata/PCSE00001/SAVEDATA.BIN", "save", minute(10))
	session.write(t, "/savedata/settings.dat", "settings", minute(20))

	transfer := &Transfer{Session: session, Clock: testClock()}
	require.NoError(t, transfer.Pull("/savedata", "/staging1", "/merged"))
	assert.Equal(t, 2, session.fetches)
	assert.Equal(t, "/", session.cwd)

	assertLocalFile(t, "/staging1/PCSE00001/SAVEDATA.BIN", "save", minute(10))
	assertLocalFile(t, "/staging1/settings.dat", "settings", minute(20))

	require.NoError(t, Merge("/staging1", "/merged"))
	assertLocalFile(t, "/merged/PCSE00001/SAVEDATA.BIN", "save", minute(10))

	// With the canonical tree up to date, a second pull transfers nothing.
	require.NoError(t, transfer.Pull("/savedata", "/staging2", "/merged"))
	assert.Equal(t, 2, session.fetches)

	_, err := fs.Stat("/staging2/settings.dat")
	assert.Error(t, err)
}

func TestPullSkipsInaccessibleDirectory(t *testing.T) {
	fs = afero.NewMemMapFs()

	session := newMockSession()
	session.write(t, "/savedata/locked/secret.bin", "secret", minute(1))
	session.write(t, "/savedata/open.txt", "open", minute(2))
	session.listErrs["/savedata/locked"] = errors.New("550 access denied")

	transfer := &Transfer{Session: session, Clock: testClock()}
	require.NoError(t, transfer.Pull("/savedata", "/staging", "/merged"))

	assertLocalFile(t, "/staging/open.txt", "open", minute(2))
	_, err := fs.Stat("/staging/locked/secret.bin")
	assert.Error(t, err)
	assert.Equal(t, "/", session.cwd)
}

func TestPullFetchFailureIsRecoverable(t *testing.T) {
	fs = afero.NewMemMapFs()

	session := newMockSession()
	session.write(t, "/savedata/bad.bin", "bad", minute(1))
	session.write(t, "/savedata/good.bin", "good", minute(2))
	session.failFetches["bad.bin"] = true

	transfer := &Transfer{Session: session, Clock: testClock()}
	require.NoError(t, transfer.Pull("/savedata", "/staging", "/merged"))

	// The sibling still transferred, and no partial copy of the failed
	// file is left to win the merge.
	assertLocalFile(t, "/staging/good.bin", "good", minute(2))
	_, err := fs.Stat("/staging/bad.bin")
	assert.Error(t, err)
}

func TestPullGarbledTimestampAlwaysTransfers(t *testing.T) {
	fs = afero.NewMemMapFs()

	session := newMockSession()
	session.write(t, "/savedata/garbled.dat", "contents", minute(1))
	session.garbledTimes["garbled.dat"] = true

	// Even a canonical copy stamped epoch-zero by a previous run doesn't
	// count as identical: an unknown timestamp always differs.
	epoch := time.Unix(0, 0)
	writeLocal(t, "/merged/garbled.dat", "contents", epoch)

	transfer := &Transfer{Session: session, Clock: testClock()}
	require.NoError(t, transfer.Pull("/savedata", "/staging", "/merged"))

	assert.Equal(t, 1, session.fetches)
	assertLocalFile(t, "/staging/garbled.dat", "contents", epoch)
}

func TestPushRoundTrip(t *testing.T) {
	fs = afero.NewMemMapFs()

	writeLocal(t, "/merged/PCSE00001/SAVEDATA.BIN", "save", minute(10))
	writeLocal(t, "/merged/settings.dat", "settings", minute(20))

	session := newMockSession()
	transfer := &Transfer{Session: session, Clock: testClock()}
	require.NoError(t, transfer.Push("/merged", "/savedata"))
	assert.Equal(t, 2, session.stores)
	assert.Equal(t, "/", session.cwd)

	// The remote copy reports the local modification time, not the upload
	// time, because the push pins it explicitly.
	info, err := session.remoteFs.Stat("/savedata/PCSE00001/SAVEDATA.BIN")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(minute(10)))

	// With timestamps matching, a second push uploads nothing.
	require.NoError(t, transfer.Push("/merged", "/savedata"))
	assert.Equal(t, 2, session.stores)

	// Touch one file locally and only that file is re-uploaded.
	require.NoError(t, fs.Chtimes("/merged/settings.dat", minute(21), minute(21)))
	require.NoError(t, transfer.Push("/merged", "/savedata"))
	assert.Equal(t, 3, session.stores)
}

func TestCountFiles(t *testing.T) {
	fs = afero.NewMemMapFs()

	session := newMockSession()
	session.write(t, "/savedata/PCSE00001/SAVEDATA.BIN", "a", minute(1))
	session.write(t, "/savedata/PCSE00001/sce_sys/param.sfo", "b", minute(2))
	session.write(t, "/savedata/settings.dat", "c", minute(3))

	transfer := &Transfer{Session: session, Clock: testClock()}
	total, err := transfer.CountFiles("/savedata")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "/", session.cwd)
}

func TestIgnoredNames(t *testing.T) {
	fs = afero.NewMemMapFs()

	session := newMockSession()
	session.write(t, "/savedata/.DS_Store", "junk", minute(1))
	session.write(t, "/savedata/keep.dat", "keep", minute(2))

	transfer := &Transfer{
		Session: session,
		Clock:   testClock(),
		Ignore:  []string{".DS_Store"},
	}

	total, err := transfer.CountFiles("/savedata")
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	require.NoError(t, transfer.Pull("/savedata", "/staging", "/merged"))
	_, err = fs.Stat("/staging/.DS_Store")
	assert.Error(t, err)
	assertLocalFile(t, "/staging/keep.dat", "keep", minute(2))

	writeLocal(t, "/merged/.DS_Store", "junk", minute(1))
	writeLocal(t, "/merged/keep.dat", "keep", minute(2))
	require.NoError(t, transfer.Push("/merged", "/savedata"))
	assert.Equal(t, 0, session.stores)
}
