package cli

import (
	"fmt"
	"log/slog"

	"github.com/nmslite/clapictl/internal/clapi"
	"github.com/nmslite/clapictl/internal/config"
)

// NewRunner returns the runner described by cfg: SSH when remote execution
// is enabled, a local process otherwise. The returned close func releases
// the SSH connection and is never nil.
func NewRunner(cfg *config.Config, logger *slog.Logger) (clapi.Runner, func() error, error) {
	if !cfg.Remote.Enabled {
		return clapi.NewExecRunner(cfg.CLAPI.Timeout(), logger), func() error { return nil }, nil
	}

	sshCfg := clapi.SSHConfig{
		Host:           cfg.Remote.Host,
		Port:           cfg.Remote.Port,
		User:           cfg.Remote.User,
		Password:       cfg.Remote.Password,
		Passphrase:     cfg.Remote.Passphrase,
		KnownHostsFile: cfg.Remote.KnownHostsFile,
		DialTimeout:    cfg.Remote.DialTimeout(),
		Timeout:        cfg.CLAPI.Timeout(),
	}
	if cfg.Remote.PrivateKeyFile != "" {
		key, err := clapi.LoadPrivateKey(cfg.Remote.PrivateKeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load private key: %w", err)
		}
		sshCfg.PrivateKey = key
	}

	runner := clapi.NewSSHRunner(sshCfg, logger)
	return runner, runner.Close, nil
}

// NewClient builds a CLAPI client around runner. observer may be nil.
func NewClient(cfg *config.Config, runner clapi.Runner, logger *slog.Logger, observer clapi.Observer) *clapi.Client {
	opts := []clapi.Option{
		clapi.WithRunner(runner),
		clapi.WithLogger(logger),
	}
	if observer != nil {
		opts = append(opts, clapi.WithObserver(observer))
	}
	return clapi.New(cfg.CLAPI.Username, cfg.CLAPI.Password, cfg.CLAPI.Path, opts...)
}
