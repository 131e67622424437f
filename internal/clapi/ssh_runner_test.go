package clapi

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	sshTestUser     = "centreon"
	sshTestPassword = "s3cret"
)

// sshReply is what the test server answers to an exec request. A hanging
// reply never sends an exit status.
type sshReply struct {
	stdout string
	stderr string
	exit   uint32
	hang   bool
}

// sshServer is an in-process SSH server that runs nothing: it hands each
// exec command to reply and writes back the answer
type sshServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.Signer
	reply    func(command string) sshReply

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
	accepted int
}

func newSigner(t *testing.T) (ssh.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return signer, priv
}

func newSSHServer(t *testing.T, reply func(command string) sshReply, opts ...func(*ssh.ServerConfig)) *sshServer {
	t.Helper()

	hostKey, _ := newSigner(t)
	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if c.User() == sshTestUser && string(password) == sshTestPassword {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	config.AddHostKey(hostKey)
	for _, opt := range opts {
		opt(config)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &sshServer{
		listener: listener,
		config:   config,
		hostKey:  hostKey,
		reply:    reply,
	}
	t.Cleanup(func() {
		listener.Close()
		s.closeConnections()
	})

	go s.serve()
	return s
}

func (s *sshServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *sshServer) handleConn(conn net.Conn) {
	_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	s.mu.Lock()
	s.accepted++
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *sshServer) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		answer := s.reply(payload.Command)
		if answer.hang {
			// Wait for the client to give up on the session
			continue
		}

		fmt.Fprint(channel, answer.stdout)
		fmt.Fprint(channel.Stderr(), answer.stderr)
		status := struct{ Status uint32 }{answer.exit}
		channel.SendRequest("exit-status", false, ssh.Marshal(&status))
		return
	}
}

func (s *sshServer) closeConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *sshServer) receivedCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *sshServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *sshServer) sshConfig() SSHConfig {
	host, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return SSHConfig{
		Host:        host,
		Port:        port,
		User:        sshTestUser,
		Password:    sshTestPassword,
		DialTimeout: 5 * time.Second,
		Timeout:     5 * time.Second,
	}
}

func echoCommand(command string) sshReply {
	return sshReply{stdout: command}
}

func TestSSHRunner(t *testing.T) {
	t.Run("payload arrives as a single quoted argument", func(t *testing.T) {
		srv := newSSHServer(t, echoCommand)
		r := NewSSHRunner(srv.sshConfig(), discardLogger())
		defer r.Close()

		args := []string{"/usr/share/centreon/bin/centreon", "-u", "admin", "-p", "pw", "-a", "add", "-o", "host", "-v", "h;a b$c"}
		res, err := r.Run(context.Background(), args)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := "/usr/share/centreon/bin/centreon -u admin -p pw -a add -o host -v 'h;a b$c'"
		if res.Stdout != want {
			t.Errorf("remote command = %q, want %q", res.Stdout, want)
		}
		if res.ExitCode != 0 {
			t.Errorf("expected exit code 0, got %d", res.ExitCode)
		}
	})

	t.Run("remote exit status is reported in result", func(t *testing.T) {
		srv := newSSHServer(t, func(string) sshReply {
			return sshReply{stdout: "Object not found", stderr: "trace", exit: 3}
		})
		r := NewSSHRunner(srv.sshConfig(), discardLogger())
		defer r.Close()

		res, err := r.Run(context.Background(), []string{"centreon", "-a", "applytpl"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.ExitCode != 3 || res.Stdout != "Object not found" || res.Stderr != "trace" {
			t.Errorf("unexpected result %+v", res)
		}

		c := New("admin", "pw", "centreon", WithRunner(r), WithLogger(discardLogger()))
		ure, ok := AsUnexpectedResponse(c.ApplyTemplate(context.Background(), "web01"))
		if !ok || ure.Code != 3 || ure.Message != "Object not found" {
			t.Errorf("expected CLAPI failure with code 3, got %+v", ure)
		}
	})

	t.Run("timeout abandons the session", func(t *testing.T) {
		srv := newSSHServer(t, func(string) sshReply { return sshReply{hang: true} })
		cfg := srv.sshConfig()
		cfg.Timeout = 200 * time.Millisecond
		r := NewSSHRunner(cfg, discardLogger())
		defer r.Close()

		start := time.Now()
		_, err := r.Run(context.Background(), []string{"centreon"})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if time.Since(start) > 4*time.Second {
			t.Error("runner waited for the remote command")
		}
	})

	t.Run("cancelled caller is not a timeout", func(t *testing.T) {
		srv := newSSHServer(t, func(string) sshReply { return sshReply{hang: true} })
		r := NewSSHRunner(srv.sshConfig(), discardLogger())
		defer r.Close()

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		_, err := r.Run(ctx, []string{"centreon"})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if errors.Is(err, ErrTimeout) {
			t.Error("cancellation must not be reported as timeout")
		}
	})

	t.Run("connection is reused across invocations", func(t *testing.T) {
		srv := newSSHServer(t, echoCommand)
		r := NewSSHRunner(srv.sshConfig(), discardLogger())
		defer r.Close()

		for i := 0; i < 3; i++ {
			if _, err := r.Run(context.Background(), []string{"centreon", strconv.Itoa(i)}); err != nil {
				t.Fatalf("run %d: unexpected error: %v", i, err)
			}
		}
		if n := srv.connections(); n != 1 {
			t.Errorf("expected 1 connection, got %d", n)
		}
		if got := srv.receivedCommands(); len(got) != 3 || got[2] != "centreon 2" {
			t.Errorf("unexpected commands %q", got)
		}
	})

	t.Run("broken connection is redialled", func(t *testing.T) {
		srv := newSSHServer(t, echoCommand)
		r := NewSSHRunner(srv.sshConfig(), discardLogger())
		defer r.Close()

		if _, err := r.Run(context.Background(), []string{"centreon"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		r.mu.Lock()
		client := r.client
		r.mu.Unlock()
		srv.closeConnections()
		client.Wait()

		if _, err := r.Run(context.Background(), []string{"centreon"}); err == nil {
			t.Fatal("expected session error on a dead connection")
		}
		res, err := r.Run(context.Background(), []string{"centreon", "again"})
		if err != nil {
			t.Fatalf("expected reconnect, got %v", err)
		}
		if res.Stdout != "centreon again" {
			t.Errorf("unexpected stdout %q", res.Stdout)
		}
		if n := srv.connections(); n != 2 {
			t.Errorf("expected 2 connections, got %d", n)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		srv := newSSHServer(t, echoCommand)
		cfg := srv.sshConfig()
		cfg.Password = "wrong"
		r := NewSSHRunner(cfg, discardLogger())

		_, err := r.Run(context.Background(), []string{"centreon"})
		if err == nil || !strings.Contains(err.Error(), "SSH handshake failed") {
			t.Fatalf("expected handshake error, got %v", err)
		}
		if len(srv.receivedCommands()) != 0 {
			t.Error("no command should reach the server")
		}
	})

	t.Run("no authentication method", func(t *testing.T) {
		srv := newSSHServer(t, echoCommand)
		cfg := srv.sshConfig()
		cfg.Password = ""
		r := NewSSHRunner(cfg, discardLogger())

		_, err := r.Run(context.Background(), []string{"centreon"})
		if err == nil || !strings.Contains(err.Error(), "no authentication method") {
			t.Fatalf("expected auth configuration error, got %v", err)
		}
		if n := srv.connections(); n != 0 {
			t.Errorf("expected no connection, got %d", n)
		}
	})

	t.Run("empty argument list", func(t *testing.T) {
		r := NewSSHRunner(SSHConfig{Host: "127.0.0.1", Password: "x"}, discardLogger())
		if _, err := r.Run(context.Background(), nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSSHRunnerKnownHosts(t *testing.T) {
	srv := newSSHServer(t, echoCommand)
	addr := srv.listener.Addr().String()

	writeKnownHosts := func(t *testing.T, key ssh.PublicKey) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{addr}, key) + "\n"
		if err := os.WriteFile(path, []byte(line), 0600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("matching key is accepted", func(t *testing.T) {
		cfg := srv.sshConfig()
		cfg.KnownHostsFile = writeKnownHosts(t, srv.hostKey.PublicKey())
		r := NewSSHRunner(cfg, discardLogger())
		defer r.Close()

		if _, err := r.Run(context.Background(), []string{"centreon"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		other, _ := newSigner(t)
		cfg := srv.sshConfig()
		cfg.KnownHostsFile = writeKnownHosts(t, other.PublicKey())
		r := NewSSHRunner(cfg, discardLogger())
		defer r.Close()

		before := len(srv.receivedCommands())
		_, err := r.Run(context.Background(), []string{"centreon"})
		if err == nil || !strings.Contains(err.Error(), "key mismatch") {
			t.Fatalf("expected host key mismatch, got %v", err)
		}
		if len(srv.receivedCommands()) != before {
			t.Error("no command should reach an unverified host")
		}
	})

	t.Run("missing known_hosts file", func(t *testing.T) {
		cfg := srv.sshConfig()
		cfg.KnownHostsFile = filepath.Join(t.TempDir(), "absent")
		r := NewSSHRunner(cfg, discardLogger())

		_, err := r.Run(context.Background(), []string{"centreon"})
		if err == nil || !strings.Contains(err.Error(), "failed to load known hosts") {
			t.Fatalf("expected known hosts error, got %v", err)
		}
	})
}

func TestSSHRunnerPrivateKey(t *testing.T) {
	_, clientKey := newSigner(t)
	clientSigner, err := ssh.NewSignerFromKey(clientKey)
	if err != nil {
		t.Fatal(err)
	}
	authorized := clientSigner.PublicKey().Marshal()

	srv := newSSHServer(t, echoCommand, func(c *ssh.ServerConfig) {
		c.PublicKeyCallback = func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(authorized) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		}
	})

	block, err := ssh.MarshalPrivateKey(clientKey, "")
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}

	pemBytes, err := LoadPrivateKey(keyPath)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}

	cfg := srv.sshConfig()
	cfg.Password = ""
	cfg.PrivateKey = pemBytes
	r := NewSSHRunner(cfg, discardLogger())
	defer r.Close()

	res, err := r.Run(context.Background(), []string{"centreon", "-a", "pollerlist"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "centreon -a pollerlist" {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}

	if data, err := LoadPrivateKey(""); data != nil || err != nil {
		t.Errorf("empty path should yield nil, got %v %v", data, err)
	}

	cfg.PrivateKey = []byte("not a key")
	bad := NewSSHRunner(cfg, discardLogger())
	if _, err := bad.Run(context.Background(), []string{"centreon"}); err == nil || !strings.Contains(err.Error(), "failed to parse private key") {
		t.Errorf("expected parse error, got %v", err)
	}
}
