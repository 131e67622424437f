package cli

import (
	"context"
	"fmt"

	"github.com/nmslite/clapictl/internal/clapi"
	"github.com/nmslite/clapictl/internal/snmpcheck"
	"github.com/spf13/cobra"
)

func (a *app) newHostCmd() *cobra.Command {
	hostCmd := &cobra.Command{
		Use:   "host",
		Short: "Manage hosts",
	}

	hostCmd.AddCommand(
		a.newHostCreateCmd(),
		a.newHostApplyTemplateCmd(),
		a.newHostAddTemplateCmd(),
		a.newHostSNMPCmd(),
		a.newHostHostgroupsCmd(),
		a.newHostExcludeServicesCmd(),
	)
	return hostCmd
}

func (a *app) newHostCreateCmd() *cobra.Command {
	var host clapi.Host

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := host.Validate(); err != nil {
				return err
			}
			return a.run(cmd, fmt.Sprintf("host %s created", host.Hostname), func(ctx context.Context, s *session) error {
				return s.client.CreateHost(ctx, host)
			})
		},
	}

	cmd.Flags().StringVar(&host.Hostname, "name", "", "host name")
	cmd.Flags().StringVar(&host.FQDN, "fqdn", "", "fully qualified domain name, used as the host alias")
	cmd.Flags().StringVar(&host.IP, "ip", "", "IP address")
	cmd.Flags().StringVar(&host.Poller, "poller", "", "poller that monitors the host")
	cmd.Flags().StringVar(&host.Hostgroups, "hostgroups", "", `hostgroups, "|" separated`)
	for _, name := range []string{"name", "fqdn", "ip", "poller", "hostgroups"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *app) newHostApplyTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-template HOST",
		Short: "Apply the templates linked to a host",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), fieldArgs("hostname")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, fmt.Sprintf("templates applied to %s", args[0]), func(ctx context.Context, s *session) error {
				return s.client.ApplyTemplate(ctx, args[0])
			})
		},
	}
}

func (a *app) newHostAddTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-template HOST TEMPLATE",
		Short: "Link a host template to a host",
		Args:  cobra.MatchAll(cobra.ExactArgs(2), fieldArgs("hostname", "template")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, fmt.Sprintf("template %s added to %s", args[1], args[0]), func(ctx context.Context, s *session) error {
				return s.client.AddTemplate(ctx, args[0], args[1])
			})
		},
	}
}

func (a *app) newHostSNMPCmd() *cobra.Command {
	var verify string

	cmd := &cobra.Command{
		Use:   "snmp HOST COMMUNITY",
		Short: "Set the SNMP v2c community of a host",
		Args:  cobra.MatchAll(cobra.ExactArgs(2), fieldArgs("hostname", "community")),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname, community := args[0], args[1]
			return a.run(cmd, fmt.Sprintf("snmp community set on %s", hostname), func(ctx context.Context, s *session) error {
				if verify != "" {
					prober := a.prober
					if prober == nil {
						prober = snmpcheck.New(s.cfg.SNMP.Port, s.cfg.SNMP.Timeout(), s.cfg.SNMP.Retries)
					}
					res, err := prober.Probe(ctx, verify, community)
					if err != nil {
						return fmt.Errorf("community check against %s failed: %w", verify, err)
					}
					s.logger.Info("SNMP community verified", "address", verify, "sys_descr", res.SysDescr)
				}
				return s.client.SetSNMP(ctx, hostname, community)
			})
		},
	}

	cmd.Flags().StringVar(&verify, "verify", "", "check the community against this address before saving it")
	return cmd
}

func (a *app) newHostHostgroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hostgroups HOST HOSTGROUPS",
		Short: `Replace the hostgroups of a host ("|" separated)`,
		Args:  cobra.MatchAll(cobra.ExactArgs(2), fieldArgs("hostname", "hostgroups")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, fmt.Sprintf("hostgroups of %s set", args[0]), func(ctx context.Context, s *session) error {
				return s.client.SetHostgroups(ctx, args[0], args[1])
			})
		},
	}
}

func (a *app) newHostExcludeServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exclude-services HOST SERVICE...",
		Short: "Deactivate services of a host",
		Args:  cobra.MatchAll(cobra.MinimumNArgs(2), fieldArgs("hostname", "service")),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname, services := args[0], args[1:]
			return a.run(cmd, fmt.Sprintf("%d services deactivated on %s", len(services), hostname), func(ctx context.Context, s *session) error {
				return s.client.ExcludeServices(ctx, hostname, services)
			})
		},
	}
}

// fieldArgs validates positional arguments that end up in a CLAPI payload.
// Arguments past the last name are checked under that name.
func fieldArgs(names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		for i, value := range args {
			name := names[min(i, len(names)-1)]
			if err := clapi.ValidateField(name, value); err != nil {
				return err
			}
		}
		return nil
	}
}
