// Package cli implements the clapictl command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nmslite/clapictl/internal/clapi"
	"github.com/nmslite/clapictl/internal/config"
	"github.com/nmslite/clapictl/internal/snmpcheck"
	"github.com/spf13/cobra"
)

// Exit codes for CLI commands. A CLAPI failure exits with CLAPI's own code.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// Prober checks an SNMP community against a device
type Prober interface {
	Probe(ctx context.Context, target, community string) (*snmpcheck.Result, error)
}

type app struct {
	configPath string
	debug      bool

	stdout io.Writer
	stderr io.Writer
	runner clapi.Runner
	prober Prober
}

// Option configures the command tree
type Option func(*app)

// WithOutput redirects command output
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *app) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

// WithRunner replaces the runner built from configuration
func WithRunner(r clapi.Runner) Option {
	return func(a *app) {
		a.runner = r
	}
}

// WithProber replaces the SNMP prober built from configuration
func WithProber(p Prober) Option {
	return func(a *app) {
		a.prober = p
	}
}

// session is what a command needs to talk to CLAPI
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	client *clapi.Client
	close  func() error
}

// NewRootCommand builds the clapictl command tree
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(a)
	}

	rootCmd := &cobra.Command{
		Use:   "clapictl",
		Short: "Drive the Centreon CLAPI from the command line",
		Long: `clapictl wraps the Centreon administration CLI (CLAPI).
It creates hosts, links and applies templates, sets SNMP settings and
hostgroups, disables services and pushes configuration to pollers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: CLAPI_ environment variables only)")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "log every CLAPI command line, password included")

	rootCmd.AddCommand(a.newHostCmd())
	rootCmd.AddCommand(a.newPollerCmd())
	rootCmd.AddCommand(a.newConfigCmd())

	return rootCmd
}

// Execute runs the command tree with args and returns the process exit code
func Execute(ctx context.Context, args []string, opts ...Option) int {
	a := &app{stderr: os.Stderr}
	for _, opt := range opts {
		opt(a)
	}

	rootCmd := NewRootCommand(opts...)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitCodeSuccess
	}
	return reportError(a.stderr, err)
}

// reportError prints err and returns the matching exit code. CLAPI prints
// its diagnostics on stdout, which is relayed here.
func reportError(w io.Writer, err error) int {
	if ure, ok := clapi.AsUnexpectedResponse(err); ok {
		if ure.Message != "" {
			fmt.Fprintln(w, ure.Message)
		}
		fmt.Fprintf(w, "Error: CLAPI exited with code %d\n", ure.Code)
		if ure.Code > 0 && ure.Code < 256 {
			return ure.Code
		}
		return ExitCodeError
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return ExitCodeError
}

// open loads configuration and builds the client
func (a *app) open() (*session, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(a.configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}

	logger := config.InitLogger(cfg.Logging, a.stderr, a.debug || cfg.CLAPI.Debug)

	runner := a.runner
	closeFn := func() error { return nil }
	if runner == nil {
		runner, closeFn, err = NewRunner(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	return &session{
		cfg:    cfg,
		logger: logger,
		client: NewClient(cfg, runner, logger, nil),
		close:  closeFn,
	}, nil
}

// run opens a session, calls fn and reports success on stdout
func (a *app) run(cmd *cobra.Command, done string, fn func(ctx context.Context, s *session) error) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(); err != nil {
			s.logger.Warn("Failed to close runner", "error", err)
		}
	}()

	if err := fn(cmd.Context(), s); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, done)
	return nil
}

func (a *app) newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print an example configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.DumpExampleConfig(a.stdout)
		},
	})
	return configCmd
}
