package testutil

import (
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/pkg/errors"
)

// TestIMAPServer represents an in-memory IMAP server instance.
// The memory backend creates a default user with username "username" and password "password",
// whose INBOX already holds one message.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// StartIMAPServer starts an in-memory IMAP server on addr ("127.0.0.1:0" picks a free port).
// It is used outside of tests by the sandbox command.
func StartIMAPServer(addr string) (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	return &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		cleanup: func() {
			_ = s.Close()
		},
		username: "username",
		password: "password",
	}, nil
}

// NewTestIMAPServer creates a new test IMAP server on a random local port.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := StartIMAPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	t.Cleanup(s.Close)

	return s
}

// Close shuts down the IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Dial opens a logged-in client connection.
func (s *TestIMAPServer) Dial() (*imapclient.Client, error) {
	c, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to test server")
	}

	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return nil, errors.Wrap(err, "failed to login")
	}

	return c, nil
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := s.Dial()
	if err != nil {
		t.Fatalf("%v", err)
	}

	return c, func() {
		_ = c.Logout()
	}
}

// CreateFolder creates a folder if it does not exist yet.
func (s *TestIMAPServer) CreateFolder(name string) error {
	c, err := s.Dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Logout()
	}()

	if _, err := c.Select(name, true); err == nil {
		return nil
	}

	if err := c.Create(name); err != nil {
		return errors.Wrapf(err, "failed to create %s", name)
	}
	return nil
}

// MustCreateFolder is CreateFolder for tests.
func (s *TestIMAPServer) MustCreateFolder(t *testing.T, name string) {
	t.Helper()

	if err := s.CreateFolder(name); err != nil {
		t.Fatalf("%v", err)
	}
}

// AppendRaw appends a raw RFC 822 message to the folder and returns its UID.
// Bare "\n" line endings are converted to CRLF.
func (s *TestIMAPServer) AppendRaw(folderName, raw string, flags ...string) (uint32, error) {
	c, err := s.Dial()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = c.Logout()
	}()

	raw = strings.ReplaceAll(strings.ReplaceAll(raw, "\r\n", "\n"), "\n", "\r\n")
	if err := c.Append(folderName, flags, time.Now(), strings.NewReader(raw)); err != nil {
		return 0, errors.Wrap(err, "failed to append message")
	}

	if _, err := c.Select(folderName, true); err != nil {
		return 0, errors.Wrap(err, "failed to select folder")
	}

	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return 0, errors.Wrap(err, "failed to search for message")
	}

	var highest uint32
	for _, uid := range uids {
		if uid > highest {
			highest = uid
		}
	}
	if highest == 0 {
		return 0, errors.New("message not found after append")
	}

	return highest, nil
}

// AddRawMessage is AppendRaw for tests.
func (s *TestIMAPServer) AddRawMessage(t *testing.T, folderName, raw string, flags ...string) uint32 {
	t.Helper()

	uid, err := s.AppendRaw(folderName, raw, flags...)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return uid
}

// PlainMessage builds a simple text/plain RFC 822 message.
func PlainMessage(messageID, subject, from, to, body string, sentAt time.Time) string {
	return fmt.Sprintf(`Message-ID: <%s>
Date: %s
From: %s
To: %s
Subject: %s
Content-Type: text/plain; charset=utf-8

%s
`, strings.Trim(messageID, "<>"), sentAt.Format(time.RFC1123Z), from, to, subject, body)
}

// AddMessage adds a simple text message to the specified folder and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName, messageID, subject, from, to string, sentAt time.Time) uint32 {
	t.Helper()

	return s.AddRawMessage(t, folderName, PlainMessage(messageID, subject, from, to, "Test message body.", sentAt))
}

// Flags returns the flags of a message in the given folder.
func (s *TestIMAPServer) Flags(t *testing.T, folderName string, uid uint32) []string {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(folderName, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, []imap.FetchItem{imap.FetchFlags, imap.FetchUid}, messages)
	}()

	var flags []string
	for msg := range messages {
		flags = msg.Flags
	}
	if err := <-done; err != nil {
		t.Fatalf("Failed to fetch flags: %v", err)
	}

	return flags
}

// SearchMessageID returns the UIDs in folderName whose Message-ID header contains messageID.
func (s *TestIMAPServer) SearchMessageID(t *testing.T, folderName, messageID string) []uint32 {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(folderName, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}

	return uids
}

// FetchRaw returns the full source of a message.
func (s *TestIMAPServer) FetchRaw(t *testing.T, folderName string, uid uint32) string {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(folderName, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var raw string
	for msg := range messages {
		if body := msg.GetBody(section); body != nil {
			b, err := io.ReadAll(body)
			if err != nil {
				t.Fatalf("Failed to read body: %v", err)
			}
			raw = string(b)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}

	return raw
}
