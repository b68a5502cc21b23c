// Package sshclient is the Remote Shell Client (C1): the one place in the
// engine that opens a TCP+SSH connection to a router and runs a single
// command against it. Every other component talks to a router only through
// this package.
package sshclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/fleet-rollout/orchestrator/internal/apperrors"
)

// Config carries the credentials and network target for one command.
type Config struct {
	Host           string
	Port           int
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Client runs commands over SSH against managed routers. Many embedded
// devices only speak legacy key exchange/cipher suites, so the client's
// negotiated algorithm set is intentionally broad rather than the Go
// default secure-only list.
type Client struct{}

func New() *Client { return &Client{} }

// legacyAlgorithms widens golang.org/x/crypto/ssh's conservative defaults to
// the suites still found on embedded router firmware in the field.
func legacyAlgorithms() ssh.Config {
	return ssh.Config{
		KeyExchanges: []string{
			"curve25519-sha256", "ecdh-sha2-nistp256", "ecdh-sha2-nistp384", "ecdh-sha2-nistp521",
			"diffie-hellman-group14-sha256", "diffie-hellman-group14-sha1", "diffie-hellman-group1-sha1",
			"diffie-hellman-group-exchange-sha1", "diffie-hellman-group-exchange-sha256",
		},
		Ciphers: []string{
			"aes128-gcm@openssh.com", "aes256-gcm@openssh.com",
			"aes128-ctr", "aes192-ctr", "aes256-ctr",
			"aes128-cbc", "3des-cbc",
		},
		MACs: []string{
			"hmac-sha2-256", "hmac-sha2-512", "hmac-sha1", "hmac-sha1-96",
		},
	}
}

func hostKeyAlgorithms() []string {
	return []string{
		ssh.KeyAlgoRSA, ssh.KeyAlgoDSA, ssh.KeyAlgoECDSA256, ssh.KeyAlgoECDSA384,
		ssh.KeyAlgoECDSA521, ssh.KeyAlgoED25519,
		ssh.CertAlgoRSAv01, ssh.CertAlgoDSAv01,
	}
}

// Exec dials cfg.Host:cfg.Port, authenticates with cfg.Username/cfg.Password,
// runs command, and returns trimmed stdout. cfg.ConnectTimeout bounds the
// TCP dial and SSH handshake; cmdTimeout (60s when <= 0) bounds only the
// command itself, starting once the session is open.
func (c *Client) Exec(ctx context.Context, cfg Config, command string, cmdTimeout time.Duration) (string, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
		},
		HostKeyCallback:   ssh.InsecureIgnoreHostKey(),
		HostKeyAlgorithms: hostKeyAlgorithms(),
		Config:            legacyAlgorithms(),
		Timeout:           cfg.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return "", apperrors.Wrap(apperrors.Timeout, err, "dial timed out: "+addr)
		}
		return "", apperrors.Wrap(apperrors.Unreachable, err, "dial failed: "+addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			return "", apperrors.Wrap(apperrors.AuthFailed, err, "ssh authentication failed")
		}
		return "", apperrors.Wrap(apperrors.Unreachable, err, "ssh handshake failed")
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ConnectionClosed, err, "failed to open ssh session")
	}
	defer session.Close()

	if cmdTimeout <= 0 {
		cmdTimeout = 60 * time.Second
	}
	timer := time.AfterFunc(cmdTimeout, func() {
		session.Close()
	})
	defer timer.Stop()

	var stdoutBuf, stderrBuf strings.Builder
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	runErr := session.Run(command)
	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	switch {
	case runErr == nil:
		return stdout, nil
	case stdout != "":
		// Some router shells exit non-zero on commands that still printed
		// the data we asked for (e.g. a reboot command that tears the
		// session down after writing output); treat non-empty stdout as
		// success regardless of exit status.
		return stdout, nil
	}

	if runErr == io.EOF || strings.Contains(runErr.Error(), "EOF") {
		return "", apperrors.Wrap(apperrors.ConnectionClosed, runErr, "connection closed during command")
	}
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		return "", apperrors.Newf(apperrors.CommandFailed, "command %q exited %d: %s", command, exitErr.ExitStatus(), stderr)
	}
	return "", apperrors.Wrap(apperrors.CommandFailed, runErr, "command failed: "+command)
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "authentication")
}
