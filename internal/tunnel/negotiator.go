// Package tunnel obtains a public address for an instance's internal
// service port by driving an external SSH client that opens a reverse
// tunnel to the relay host.
package tunnel

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/nerolab/alas-console/internal/deployconf"
)

var (
	ErrConnectFailed  = errors.New("tunnel connect failed")
	ErrAddressMissing = errors.New("tunnel response has no address")
	ErrResponseParse  = errors.New("tunnel response parse failed")
)

// Options tunes the negotiation. The wait and settle knobs exist so that
// deployments with slow container startups can stretch them.
type Options struct {
	Server       string // relay host[:port], port defaults to 22
	SSHCommand   string
	UserPrefix   string
	InternalPort int
	WaitAttempts int
	WaitInterval time.Duration
	SettleDelay  time.Duration
}

// Negotiator establishes reverse tunnels against one relay host.
type Negotiator struct {
	opts Options
}

func NewNegotiator(opts Options) *Negotiator {
	if opts.SSHCommand == "" {
		opts.SSHCommand = "ssh"
	}
	if opts.WaitAttempts <= 0 {
		opts.WaitAttempts = 30
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = time.Second
	}
	return &Negotiator{opts: opts}
}

type handshake struct {
	Address string `json:"address"`
}

// RemoteURL waits for the instance's deploy descriptor, resolves the SSH
// identity, launches the external SSH client and returns the public
// address from its single-line JSON handshake.
//
// The SSH subprocess is deliberately left running after the handshake: it
// owns the live tunnel, and its lifetime passes to the operating system.
// No handle to it is retained.
func (n *Negotiator) RemoteURL(configPath string) (string, error) {
	if err := deployconf.WaitForConfig(configPath, n.opts.WaitAttempts, n.opts.WaitInterval); err != nil {
		return "", err
	}

	user, err := n.resolveSSHUser(configPath)
	if err != nil {
		return "", err
	}

	host, port := splitServer(n.opts.Server)
	args := []string{
		"-R", fmt.Sprintf("/:127.0.0.1:%d", n.opts.InternalPort),
		"-p", port,
		// The relay's host key is not pre-provisioned, so verification is
		// bypassed. Known trade-off.
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		fmt.Sprintf("%s@%s", user, host),
		"--", "--output", "json",
	}

	cmd := exec.Command(n.opts.SSHCommand, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	log.Printf("[tunnel] Connecting %s@%s:%s", user, host, port)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	line, err := bufio.NewReader(stdout).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		errOutput, _ := io.ReadAll(stderr)
		_ = cmd.Process.Kill()
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: %v", ErrConnectFailed, err)
		}
		return "", fmt.Errorf("%w: %s", ErrConnectFailed, strings.TrimSpace(string(errOutput)))
	}

	var resp handshake
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		_ = cmd.Process.Kill()
		return "", fmt.Errorf("%w: %v (line: %s)", ErrResponseParse, err, line)
	}
	if resp.Address == "" {
		_ = cmd.Process.Kill()
		return "", ErrAddressMissing
	}

	// Detach: the process keeps the tunnel open for as long as it lives.
	_ = cmd.Process.Release()

	log.Printf("[tunnel] Tunnel established, address=%s", resp.Address)
	return resp.Address, nil
}

// resolveSSHUser reads the identity from the descriptor, generating and
// persisting one when absent. After the write it waits a settle delay and
// re-reads: the container consumes the same file asynchronously and may
// rewrite it during its own startup.
func (n *Negotiator) resolveSSHUser(configPath string) (string, error) {
	user, err := deployconf.SSHUser(configPath)
	if err != nil {
		return "", err
	}
	if user != "" {
		return user, nil
	}

	generated := deployconf.GenerateSSHUser(n.opts.UserPrefix)
	if err := deployconf.SetSSHUser(configPath, generated); err != nil {
		return "", err
	}
	log.Printf("[tunnel] No SSH identity in %s, generated %s", configPath, generated)

	time.Sleep(n.opts.SettleDelay)

	user, err = deployconf.SSHUser(configPath)
	if err != nil || user == "" {
		return generated, nil
	}
	return user, nil
}

func splitServer(server string) (host, port string) {
	parts := strings.SplitN(server, ":", 2)
	host = parts[0]
	port = "22"
	if len(parts) == 2 && parts[1] != "" {
		port = parts[1]
	}
	return host, port
}
