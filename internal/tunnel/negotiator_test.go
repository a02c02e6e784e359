package tunnel

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/nerolab/alas-console/internal/deployconf"
)

// stubSSH writes an executable that plays the relay side of the
// negotiation and returns its path.
func stubSSH(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ssh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func configDirWithUser(t *testing.T, user string) string {
	t.Helper()
	dir := t.TempDir()
	content := "Deploy:\n  RemoteAccess:\n    SSHUser: " + user + "\n"
	if err := os.WriteFile(deployconf.Path(dir), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestNegotiator(sshCommand string) *Negotiator {
	return NewNegotiator(Options{
		Server:       "relay.example.com:10022",
		SSHCommand:   sshCommand,
		UserPrefix:   "alas",
		InternalPort: 22267,
		WaitAttempts: 2,
		WaitInterval: 5 * time.Millisecond,
		SettleDelay:  5 * time.Millisecond,
	})
}

func TestRemoteURLSuccess(t *testing.T) {
	ssh := stubSSH(t, `echo '{"address":"tcp://host:1234"}'; sleep 1`)
	n := newTestNegotiator(ssh)

	url, err := n.RemoteURL(configDirWithUser(t, "existing01ab"))
	if err != nil {
		t.Fatal(err)
	}
	if url != "tcp://host:1234" {
		t.Errorf("RemoteURL = %q, want tcp://host:1234", url)
	}
}

func TestRemoteURLNoOutput(t *testing.T) {
	ssh := stubSSH(t, `echo 'connection refused' >&2; exit 255`)
	n := newTestNegotiator(ssh)

	_, err := n.RemoteURL(configDirWithUser(t, "existing01ab"))
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("RemoteURL = %v, want ErrConnectFailed", err)
	}
	// Captured stderr must surface in the message.
	if got := err.Error(); !regexp.MustCompile(`connection refused`).MatchString(got) {
		t.Errorf("error %q does not carry the subprocess stderr", got)
	}
}

func TestRemoteURLNonJSONOutput(t *testing.T) {
	ssh := stubSSH(t, `echo 'Welcome to the relay'; sleep 1`)
	n := newTestNegotiator(ssh)

	_, err := n.RemoteURL(configDirWithUser(t, "existing01ab"))
	if !errors.Is(err, ErrResponseParse) {
		t.Errorf("RemoteURL = %v, want ErrResponseParse", err)
	}
}

func TestRemoteURLMissingAddress(t *testing.T) {
	ssh := stubSSH(t, `echo '{"status":"ok"}'; sleep 1`)
	n := newTestNegotiator(ssh)

	_, err := n.RemoteURL(configDirWithUser(t, "existing01ab"))
	if !errors.Is(err, ErrAddressMissing) {
		t.Errorf("RemoteURL = %v, want ErrAddressMissing", err)
	}
}

func TestRemoteURLConfigTimeoutSkipsSubprocess(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "launched")
	ssh := stubSSH(t, `touch `+marker+`; echo '{"address":"tcp://x:1"}'`)
	n := newTestNegotiator(ssh)

	// Config dir exists but the descriptor never appears.
	_, err := n.RemoteURL(t.TempDir())
	if !errors.Is(err, deployconf.ErrTimeout) {
		t.Fatalf("RemoteURL = %v, want deployconf.ErrTimeout", err)
	}
	if _, statErr := os.Stat(marker); statErr == nil {
		t.Error("SSH subprocess was launched despite the config timeout")
	}
}

func TestRemoteURLGeneratesIdentityWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(deployconf.Path(dir), []byte("Deploy: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ssh := stubSSH(t, `echo '{"address":"tcp://host:9"}'; sleep 1`)
	n := newTestNegotiator(ssh)

	if _, err := n.RemoteURL(dir); err != nil {
		t.Fatal(err)
	}

	user, err := deployconf.SSHUser(dir)
	if err != nil {
		t.Fatal(err)
	}
	pattern := regexp.MustCompile(`^alas\d{6}[a-z0-9]{4}$`)
	if !pattern.MatchString(user) {
		t.Errorf("persisted identity = %q, want match of %v", user, pattern)
	}
}

func TestRemoteURLKeepsExistingIdentity(t *testing.T) {
	dir := configDirWithUser(t, "keepme")
	ssh := stubSSH(t, `echo '{"address":"tcp://host:9"}'; sleep 1`)
	n := newTestNegotiator(ssh)

	if _, err := n.RemoteURL(dir); err != nil {
		t.Fatal(err)
	}

	user, err := deployconf.SSHUser(dir)
	if err != nil {
		t.Fatal(err)
	}
	if user != "keepme" {
		t.Errorf("negotiation overwrote existing identity: %q", user)
	}
}

func TestSplitServer(t *testing.T) {
	tests := []struct {
		in       string
		host     string
		port     string
	}{
		{"relay.example.com:10022", "relay.example.com", "10022"},
		{"relay.example.com", "relay.example.com", "22"},
		{"relay.example.com:", "relay.example.com", "22"},
	}
	for _, tt := range tests {
		host, port := splitServer(tt.in)
		if host != tt.host || port != tt.port {
			t.Errorf("splitServer(%q) = (%q, %q), want (%q, %q)", tt.in, host, port, tt.host, tt.port)
		}
	}
}
