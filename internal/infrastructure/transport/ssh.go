// Package transport implements ports.Transport over SSH.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/pkg/filesystem"
	"github.com/doeshing/shai-remote/internal/ports"
)

const (
	ptyTerm = "xterm"
	ptyRows = 40
	ptyCols = 120
)

// SSHTransport dials hosts with golang.org/x/crypto/ssh.
type SSHTransport struct {
	logger ports.Logger
	dialer net.Dialer
}

// NewSSHTransport returns a transport that logs through logger.
func NewSSHTransport(logger ports.Logger) *SSHTransport {
	return &SSHTransport{logger: logger}
}

// Connect dials, verifies the host key and authenticates. Failures are
// *domain.ConnectError.
func (t *SSHTransport) Connect(ctx context.Context, host domain.HostConfig) (ports.Channel, error) {
	host = host.WithDefaults()
	addr := host.Address()

	auth, err := authMethods(host)
	if err != nil {
		return nil, &domain.ConnectError{Kind: domain.ConnectAuthRejected, Host: addr, Err: err}
	}
	hostKeyCallback, err := hostKeyCallback(host)
	if err != nil {
		return nil, &domain.ConnectError{Kind: domain.ConnectProtocolError, Host: addr, Err: err}
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &domain.ConnectError{Kind: dialErrorKind(ctx, err), Host: addr, Err: err}
	}

	// the handshake has no context parameter; bound it by deadline and
	// close the socket on cancellation
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	config := &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         host.ConnectTimeout(),
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	close(stop)
	if err != nil {
		_ = conn.Close()
		return nil, &domain.ConnectError{Kind: handshakeErrorKind(ctx, err), Host: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	if t.logger != nil {
		t.logger.Debug("ssh handshake complete", map[string]interface{}{
			"host":    addr,
			"user":    host.User,
			"version": string(clientConn.ServerVersion()),
		})
	}
	return &sshChannel{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

type sshChannel struct {
	client *ssh.Client
}

// Execute runs command in a fresh SSH session. A non-zero exit status is a
// result, not an error. On cancellation the remote process gets SIGKILL.
func (c *sshChannel) Execute(ctx context.Context, command string, pty bool) (domain.CommandResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return domain.CommandResult{}, &domain.ExecError{Kind: domain.ExecChannelClosed, Err: err}
	}
	defer session.Close()

	if pty {
		modes := ssh.TerminalModes{ssh.ECHO: 0, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
		if err := session.RequestPty(ptyTerm, ptyRows, ptyCols, modes); err != nil {
			return domain.CommandResult{}, &domain.ExecError{Kind: domain.ExecChannelClosed, Err: fmt.Errorf("request pty: %w", err)}
		}
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return domain.CommandResult{}, &domain.ExecError{Kind: domain.ExecTimeout, Err: ctx.Err()}
	case err := <-done:
		result := domain.CommandResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return domain.CommandResult{}, &domain.ExecError{Kind: domain.ExecChannelClosed, Err: err}
	}
}

func (c *sshChannel) Disconnect() error {
	err := c.client.Close()
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func authMethods(host domain.HostConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if host.AuthMethod() == domain.AuthKey {
		signer, err := loadSigner(host)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	password := host.Password
	if password == "" && host.PasswordEnvVar != "" {
		password = os.Getenv(host.PasswordEnvVar)
	}
	if password != "" {
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, errors.New("no credentials: configure a key file or a password")
	}
	return methods, nil
}

func loadSigner(host domain.HostConfig) (ssh.Signer, error) {
	pem := host.KeyMaterial
	if len(pem) == 0 {
		data, err := os.ReadFile(expandHome(host.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		pem = data
	}
	if host.PassphraseEnvVar != "" {
		if passphrase := os.Getenv(host.PassphraseEnvVar); passphrase != "" {
			return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
		}
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("key is encrypted: set %s", valueOr(host.PassphraseEnvVar, "passphrase_env_var"))
		}
		return nil, fmt.Errorf("parse key: %w", err)
	}
	return signer, nil
}

func hostKeyCallback(host domain.HostConfig) (ssh.HostKeyCallback, error) {
	if host.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := host.KnownHostsFile
	if path == "" {
		path = filepath.Join(filesystem.UserHomeDir(), ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return callback, nil
}

func dialErrorKind(ctx context.Context, err error) domain.ConnectErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ConnectTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ConnectTimeout
	}
	return domain.ConnectUnreachable
}

func handshakeErrorKind(ctx context.Context, err error) domain.ConnectErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ConnectTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ConnectTimeout
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return domain.ConnectAuthRejected
	}
	return domain.ConnectProtocolError
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(filesystem.UserHomeDir(), path[2:])
	}
	return path
}

func valueOr(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

var _ ports.Transport = (*SSHTransport)(nil)
