package remote

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/vitasync/vitasync/pkg/errors"
)

// The Vita's FTP daemon speaks a minimal dialect: anonymous login, passive
// mode only, drive-prefixed absolute paths ("ux0:/..."), and free-text LIST
// replies. Mainstream FTP client libraries parse LIST themselves and choke on
// the Vita's format, and none of them expose the raw lines, so the session is
// implemented directly on net/textproto.

// mfmtStamp is the UTC timestamp layout the MFMT command expects.
const mfmtStamp = "20060102150405"

// DialOption configures a session before login.
type DialOption func(*ftpSession)

// WithTimeout arms a watchdog deadline around every command and data
// transfer, so a wedged endpoint fails the operation instead of hanging the
// run. The zero value disables the watchdog.
func WithTimeout(timeout time.Duration) DialOption {
	return func(session *ftpSession) {
		session.timeout = timeout
	}
}

type ftpSession struct {
	conn    net.Conn
	text    *textproto.Conn
	host    string
	timeout time.Duration
}

// Dial connects to the FTP endpoint at `addr` and logs in anonymously.
// The session's working directory starts wherever the server puts it, so
// callers should change to an absolute path before walking.
func Dial(addr string, options ...DialOption) (Session, error) {
	session := &ftpSession{}
	for _, option := range options {
		option(session)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.WithContext(err, "parse address")
	}
	session.host = host

	conn, err := net.DialTimeout("tcp", addr, session.timeout)
	if err != nil {
		return nil, errors.WithContext(err, "connect")
	}
	session.conn = conn
	session.text = textproto.NewConn(conn)

	if _, _, err := session.readReply(2); err != nil {
		session.text.Close()
		return nil, errors.WithContext(err, "read greeting")
	}

	if err := session.login(); err != nil {
		session.text.Close()
		return nil, errors.WithContext(err, "log in")
	}

	// Binary mode. Timestamps are the only change signal, so a transfer
	// that rewrites line endings would corrupt the contract.
	if _, _, err := session.cmd(2, "TYPE I"); err != nil {
		session.text.Close()
		return nil, errors.WithContext(err, "set binary mode")
	}
	return session, nil
}

func (session *ftpSession) login() error {
	code, _, err := session.cmd(0, "USER anonymous")
	if err != nil {
		return err
	}

	switch {
	case code/100 == 2:
		// Some servers skip the password round trip entirely.
		return nil
	case code == 331:
		_, _, err := session.cmd(2, "PASS anonymous")
		return err
	default:
		return errors.New(fmt.Sprintf("unexpected reply to USER: %d", code))
	}
}

// cmd sends one command and reads its reply. `expect` follows textproto
// conventions: 2 matches any 2xx, 250 matches exactly, and 0 matches
// anything.
func (session *ftpSession) cmd(expect int, format string, args ...interface{}) (int, string, error) {
	session.armWatchdog()
	defer session.disarmWatchdog()

	if err := session.text.PrintfLine(format, args...); err != nil {
		return 0, "", err
	}
	return session.text.ReadResponse(expect)
}

func (session *ftpSession) readReply(expect int) (int, string, error) {
	session.armWatchdog()
	defer session.disarmWatchdog()
	return session.text.ReadResponse(expect)
}

func (session *ftpSession) armWatchdog() {
	if session.timeout != 0 {
		session.conn.SetDeadline(time.Now().Add(session.timeout))
	}
}

func (session *ftpSession) disarmWatchdog() {
	if session.timeout != 0 {
		session.conn.SetDeadline(time.Time{})
	}
}

// openDataConn negotiates a passive-mode data connection. The port comes from
// the PASV reply; the host is always the control connection's host because
// NATed servers advertise unroutable addresses.
func (session *ftpSession) openDataConn() (net.Conn, error) {
	_, message, err := session.cmd(227, "PASV")
	if err != nil {
		return nil, errors.WithContext(err, "enter passive mode")
	}

	port, err := parsePasvPort(message)
	if err != nil {
		return nil, errors.WithContext(err, "parse passive reply")
	}

	return net.DialTimeout("tcp",
		net.JoinHostPort(session.host, strconv.Itoa(port)), session.timeout)
}

func parsePasvPort(message string) (int, error) {
	start := strings.IndexByte(message, '(')
	end := strings.IndexByte(message, ')')
	if start == -1 || end == -1 || end < start {
		return 0, errors.New("malformed PASV reply: " + message)
	}

	fields := strings.Split(message[start+1:end], ",")
	if len(fields) != 6 {
		return 0, errors.New("malformed PASV reply: " + message)
	}

	high, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil {
		return 0, err
	}
	low, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return 0, err
	}
	return high*256 + low, nil
}

// dataCmd runs one transfer command: open the data connection, send the
// command, stream through `handler`, then collect the completion reply.
func (session *ftpSession) dataCmd(command string, handler func(net.Conn) error) error {
	data, err := session.openDataConn()
	if err != nil {
		return err
	}

	if _, _, err := session.cmd(1, "%s", command); err != nil {
		data.Close()
		return err
	}

	if session.timeout != 0 {
		data.SetDeadline(time.Now().Add(session.timeout))
	}

	handlerErr := handler(data)
	closeErr := data.Close()

	// The completion reply arrives once the data connection is closed.
	// Read it even on failure so the control connection stays in sync.
	_, _, replyErr := session.readReply(2)

	if handlerErr != nil {
		return handlerErr
	}
	if closeErr != nil {
		return closeErr
	}
	return replyErr
}

func (session *ftpSession) ChangeDirectory(path string) error {
	_, _, err := session.cmd(2, "CWD %s", path)
	return err
}

func (session *ftpSession) CurrentDirectory() (string, error) {
	_, message, err := session.cmd(257, "PWD")
	if err != nil {
		return "", err
	}
	return parsePwdReply(message)
}

func parsePwdReply(message string) (string, error) {
	start := strings.IndexByte(message, '"')
	end := strings.LastIndexByte(message, '"')
	if start == -1 || end <= start {
		return "", errors.New("malformed PWD reply: " + message)
	}
	return message[start+1 : end], nil
}

func (session *ftpSession) ListRaw() ([]string, error) {
	var lines []string
	err := session.dataCmd("LIST", func(data net.Conn) error {
		scanner := bufio.NewScanner(data)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		return scanner.Err()
	})
	return lines, err
}

func (session *ftpSession) Fetch(name string, sink io.Writer) error {
	return session.dataCmd("RETR "+name, func(data net.Conn) error {
		_, err := io.Copy(sink, data)
		return err
	})
}

func (session *ftpSession) Store(name string, source io.Reader) error {
	return session.dataCmd("STOR "+name, func(data net.Conn) error {
		_, err := io.Copy(data, source)
		return err
	})
}

func (session *ftpSession) SetModTime(name string, modTime time.Time) error {
	_, _, err := session.cmd(2, "MFMT %s %s", modTime.UTC().Format(mfmtStamp), name)
	return err
}

func (session *ftpSession) MakeDirectory(name string) error {
	_, _, err := session.cmd(2, "MKD %s", name)
	return err
}

func (session *ftpSession) Close() error {
	session.cmd(2, "QUIT")
	return session.text.Close()
}
