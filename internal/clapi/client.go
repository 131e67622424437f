// Package clapi drives the Centreon command line API (CLAPI).
//
// Every operation turns into one or more invocations of the form
//
//	centreon -u USER -p PASSWORD -a ACTION [-o OBJECT] -v PAYLOAD
//
// where PAYLOAD is a ";" separated field list. An invocation succeeds when
// the process exits with code 0. Anything else becomes an
// *UnexpectedResponseError carrying the process stdout and exit code.
//
// Operations that issue several invocations (ConfigApply, SetSNMP,
// ExcludeServices) stop at the first failure. Nothing is rolled back: the
// invocations that already succeeded have taken effect on the Centreon
// side.
package clapi

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// snmpVersion is the only version set by SetSNMP
const snmpVersion = "2c"

// Observer is notified after every invocation, successful or not
type Observer interface {
	ObserveInvocation(ctx context.Context, rec Record)
}

// Client holds the CLAPI credentials and the location of the executable
type Client struct {
	username string
	password string
	path     string

	runner   Runner
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

// Option configures a Client
type Option func(*Client)

// WithRunner sets how CLAPI is executed. Defaults to a local ExecRunner.
func WithRunner(r Runner) Option {
	return func(c *Client) {
		c.runner = r
	}
}

// WithLogger sets the logger. Argument lists are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithObserver registers an observer for finished invocations
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithTimeout bounds each invocation when the default local runner is used
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a new CLAPI client
func New(username, password, path string, opts ...Option) *Client {
	c := &Client{
		username: username,
		password: password,
		path:     path,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runner == nil {
		c.runner = NewExecRunner(c.timeout, c.logger)
	}
	c.logger = c.logger.With("component", "clapi")
	return c
}

// Invoke runs CLAPI once and returns its exit code, which is always 0 when
// err is nil. objectType may be empty.
func (c *Client) Invoke(ctx context.Context, action, payload, objectType string) (int, error) {
	inv := Invocation{
		Action:     action,
		ObjectType: objectType,
		Payload:    payload,
	}
	args := inv.Args(c.path, c.username, c.password)

	// The password is part of the logged line.
	c.logger.Debug("Executing CLAPI",
		"object", objectType,
		"action", action,
		"cmd", strings.Join(args, " "),
	)

	started := time.Now()
	res, err := c.runner.Run(ctx, args)
	if err == nil && res.ExitCode != 0 {
		err = &UnexpectedResponseError{
			Message: res.Stdout,
			Code:    res.ExitCode,
			Stderr:  res.Stderr,
		}
	}

	c.notify(ctx, inv, res, started, err)

	if err != nil {
		c.logger.Debug("CLAPI invocation failed",
			"object", objectType,
			"action", action,
			"exit_code", res.ExitCode,
			"error", err,
		)
		return res.ExitCode, err
	}

	return res.ExitCode, nil
}

func (c *Client) notify(ctx context.Context, inv Invocation, res Result, started time.Time, err error) {
	if c.observer == nil {
		return
	}
	rec := Record{
		ID:         uuid.New(),
		StartedAt:  started,
		Duration:   time.Since(started),
		Action:     inv.Action,
		ObjectType: inv.ObjectType,
		Payload:    inv.Payload,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if caller, ok := CallerFrom(ctx); ok {
		rec.RequestID = caller.RequestID
		rec.User = caller.User
	}
	c.observer.ObserveInvocation(ctx, rec)
}

// ApplyTemplate applies the templates linked to a host
func (c *Client) ApplyTemplate(ctx context.Context, hostname string) error {
	_, err := c.Invoke(ctx, ActionApplyTemplate, hostname, ObjectHost)
	return err
}

// AddTemplate links a host template to a host
func (c *Client) AddTemplate(ctx context.Context, hostname, template string) error {
	_, err := c.Invoke(ctx, ActionAddTemplate, joinFields(hostname, template), ObjectHost)
	return err
}

// SetSNMP sets the SNMP community of a host and pins the version to 2c.
// If the second call fails the community has already been changed.
func (c *Client) SetSNMP(ctx context.Context, hostname, community string) error {
	if _, err := c.Invoke(ctx, ActionSetParam, joinFields(hostname, "snmp_community", community), ObjectHost); err != nil {
		return err
	}
	_, err := c.Invoke(ctx, ActionSetParam, joinFields(hostname, "snmp_version", snmpVersion), ObjectHost)
	return err
}

// ConfigGenerate generates the monitoring configuration of a poller
func (c *Client) ConfigGenerate(ctx context.Context, poller string) error {
	_, err := c.Invoke(ctx, ActionPollerGenerate, poller, "")
	return err
}

// ConfigMove moves the generated configuration to the poller
func (c *Client) ConfigMove(ctx context.Context, poller string) error {
	_, err := c.Invoke(ctx, ActionConfigMove, poller, "")
	return err
}

// ConfigReload reloads the monitoring engine of a poller
func (c *Client) ConfigReload(ctx context.Context, poller string) error {
	_, err := c.Invoke(ctx, ActionPollerReload, poller, "")
	return err
}

// ConfigApply generates, moves and reloads the configuration of a poller.
//
// The first failing step ends the sequence and its error is returned as is.
// There is no rollback: a failed move leaves the configuration generated
// but not moved, a failed reload leaves it moved but not loaded.
func (c *Client) ConfigApply(ctx context.Context, poller string) error {
	steps := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{"generate", c.ConfigGenerate},
		{"move", c.ConfigMove},
		{"reload", c.ConfigReload},
	}
	for _, step := range steps {
		if err := step.fn(ctx, poller); err != nil {
			c.logger.Warn("Configuration apply stopped",
				"poller", poller,
				"failed_step", step.name,
			)
			return err
		}
	}
	return nil
}

// SetHostgroups replaces the hostgroups of a host. hostgroups uses CLAPI's
// own "|" separated list syntax.
func (c *Client) SetHostgroups(ctx context.Context, hostname, hostgroups string) error {
	_, err := c.Invoke(ctx, ActionSetHostgroup, joinFields(hostname, hostgroups), ObjectHost)
	return err
}

// ExcludeServices deactivates the given services of a host, in order.
// Services handled before a failure stay deactivated.
func (c *Client) ExcludeServices(ctx context.Context, hostname string, services []string) error {
	for _, service := range services {
		payload := joinFields(hostname, service, "activate", "0")
		if _, err := c.Invoke(ctx, ActionSetParam, payload, ObjectService); err != nil {
			return err
		}
	}
	return nil
}

// CreateHost adds a host. The alias field is always left empty.
func (c *Client) CreateHost(ctx context.Context, host Host) error {
	payload := joinFields(host.Hostname, host.FQDN, host.IP, "", host.Poller, host.Hostgroups)
	_, err := c.Invoke(ctx, ActionAdd, payload, ObjectHost)
	return err
}
