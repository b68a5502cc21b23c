package sshclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/fleet-rollout/orchestrator/internal/apperrors"
)

// testServer runs a minimal single-shot SSH server that accepts the given
// password and, for each exec request, writes reply to stdout and exits with
// exitStatus.
type testServer struct {
	listener net.Listener
	addr     string
	port     int
}

func startTestServer(t *testing.T, password string, reply string, exitStatus uint32, closeBeforeReply bool) *testServer {
	t.Helper()

	signer := newTestSigner(t)
	serverCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, apperrors.New(apperrors.AuthFailed, "bad password")
		},
	}
	serverCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		sshConn, chans, reqs, err := ssh.NewServerConn(conn, serverCfg)
		if err != nil {
			conn.Close()
			return
		}
		defer sshConn.Close()
		go ssh.DiscardRequests(reqs)
		for newCh := range chans {
			if newCh.ChannelType() != "session" {
				newCh.Reject(ssh.UnknownChannelType, "unsupported")
				continue
			}
			ch, requests, err := newCh.Accept()
			if err != nil {
				continue
			}
			go func() {
				defer ch.Close()
				for req := range requests {
					if req.Type == "exec" {
						if closeBeforeReply {
							ch.Write([]byte(reply))
							sshConn.Close()
							req.Reply(true, nil)
							return
						}
						ch.Write([]byte(reply))
						ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{exitStatus}))
						req.Reply(true, nil)
						return
					}
					req.Reply(false, nil)
				}
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return &testServer{listener: ln, addr: addr.IP.String(), port: addr.Port}
}

func (s *testServer) Close() { s.listener.Close() }

func TestExecSuccess(t *testing.T) {
	srv := startTestServer(t, "secret", "firmware-v1.2.3.4\n", 0, false)
	defer srv.Close()

	c := New()
	out, err := c.Exec(context.Background(), Config{
		Host: srv.addr, Port: srv.port, Username: "admin", Password: "secret",
		ConnectTimeout: 2 * time.Second,
	}, "cat /etc/version", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "firmware-v1.2.3.4", out)
}

func TestExecAuthFailure(t *testing.T) {
	srv := startTestServer(t, "secret", "ignored", 0, false)
	defer srv.Close()

	c := New()
	_, err := c.Exec(context.Background(), Config{
		Host: srv.addr, Port: srv.port, Username: "admin", Password: "wrong",
		ConnectTimeout: 2 * time.Second,
	}, "cat /etc/version", 2*time.Second)
	require.Error(t, err)
	require.Equal(t, apperrors.AuthFailed, apperrors.Kindf(err))
}

func TestExecConnectionClosedDuringCommandIsStillOutput(t *testing.T) {
	srv := startTestServer(t, "secret", "rebooting now", 0, true)
	defer srv.Close()

	c := New()
	out, err := c.Exec(context.Background(), Config{
		Host: srv.addr, Port: srv.port, Username: "admin", Password: "secret",
		ConnectTimeout: 2 * time.Second,
	}, "reboot", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "rebooting now", out)
}

func TestExecUnreachable(t *testing.T) {
	c := New()
	_, err := c.Exec(context.Background(), Config{
		Host: "127.0.0.1", Port: 1, Username: "admin", Password: "x",
		ConnectTimeout: 200 * time.Millisecond,
	}, "ping", time.Second)
	require.Error(t, err)
}
