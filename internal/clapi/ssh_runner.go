package clapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach the central server that hosts CLAPI
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKey     []byte
	Passphrase     string
	KnownHostsFile string
	DialTimeout    time.Duration
	// Timeout bounds each invocation. Zero waits indefinitely.
	Timeout time.Duration
}

// SSHRunner runs CLAPI on a remote host over one shared SSH connection
type SSHRunner struct {
	cfg    SSHConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner creates a runner. The connection is opened lazily on first use.
func NewSSHRunner(cfg SSHConfig, logger *slog.Logger) *SSHRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SSHRunner{
		cfg:    cfg,
		logger: logger.With("component", "clapi_ssh", "host", cfg.Host),
	}
}

func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if r.cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(r.cfg.Password))
	}

	if len(r.cfg.PrivateKey) > 0 {
		var key ssh.Signer
		var err error

		if r.cfg.Passphrase != "" {
			key, err = ssh.ParsePrivateKeyWithPassphrase(r.cfg.PrivateKey, []byte(r.cfg.Passphrase))
		} else {
			key, err = ssh.ParsePrivateKey(r.cfg.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(key))
	}

	if len(authMethods) == 0 {
		return nil, errors.New("no authentication method provided (password or private key required)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if r.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(r.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		r.logger.Warn("Host key verification disabled, no known_hosts file configured")
	}

	return &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.cfg.DialTimeout,
	}, nil
}

func (r *SSHRunner) connect() (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	config, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	client, err := ssh.Dial("tcp", address, config)
	if err != nil {
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	r.logger.Info("SSH connection established",
		"remote_version", string(client.ServerVersion()),
	)
	r.client = client
	return client, nil
}

// drop forgets a broken connection so the next Run dials again
func (r *SSHRunner) drop(client *ssh.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == client {
		r.client.Close()
		r.client = nil
	}
}

// Run executes the shell-quoted argument list in a new session
func (r *SSHRunner) Run(ctx context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, errors.New("empty argument list")
	}

	client, err := r.connect()
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		r.drop(client)
		return Result{}, fmt.Errorf("failed to open SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	execCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(shellescape.QuoteCommand(args))
	}()

	select {
	case err = <-done:
	case <-execCtx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return Result{}, interrupted(ctx, r.cfg.Timeout)
	}

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		r.logger.Warn("Remote CLAPI execution failed",
			"executable", args[0],
			"error", err,
		)
		return res, fmt.Errorf("remote clapi execution failed: %w", err)
	}

	return res, nil
}

// Close closes the SSH connection if one is open
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// LoadPrivateKey reads a PEM private key from disk. An empty path yields nil.
func LoadPrivateKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return data, nil
}
