package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/catmosaic/catmosaic/internal/config"
	"github.com/catmosaic/catmosaic/internal/svc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serviceName  string
	serviceUser  string
	forceInstall bool
	logsFollow   bool
	logsLines    int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage catmosaic as a system service",
		Long: `Install, control and inspect catmosaic as a system service.

Supported platforms: Linux (systemd), macOS (launchd), Windows (SCM).
The service runs "catmosaic run" with the given config file.

Examples:
  sudo catmosaic service install -c /etc/catmosaic/catmosaic.yaml
  sudo catmosaic service start
  catmosaic service status
  catmosaic service logs --follow`,
	}
	serviceCmd.PersistentFlags().StringVarP(&serviceName, "name", "n", "catmosaic", "service name")

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install catmosaic as a system service",
		Args:  cobra.NoArgs,
		RunE:  runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceUser, "user", "", "run the service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "reinstall if the service already exists")
	serviceCmd.AddCommand(installCmd)

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the catmosaic system service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			if err := svc.CheckPrivileges(); err != nil {
				return err
			}
			cfg := serviceConfig()
			if err := svc.Uninstall(cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Service %q uninstalled.\n", cfg.Name)
			return nil
		},
	})

	for _, action := range []string{"start", "stop", "restart"} {
		serviceCmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the catmosaic service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				setupLogging()
				if err := svc.CheckPrivileges(); err != nil {
					return err
				}
				cfg := serviceConfig()
				log.Info().Str("name", cfg.Name).Str("action", action).Msg("controlling service")
				return svc.Control(cfg, action)
			},
		})
	}

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the catmosaic service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := serviceConfig()
			status, err := svc.Status(cfg)
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Service: %s\n", cfg.Name)
			_, _ = fmt.Fprintf(out, "Status:  %s\n", status)
			_, _ = fmt.Fprintf(out, "Config:  %s\n", cfg.ConfigPath)
			return err
		},
	})

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View catmosaic service logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.ViewLogs(runtime.GOOS, svc.LogOptions{
				Name:   serviceName,
				Follow: logsFollow,
				Lines:  logsLines,
			})
		},
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "number of lines to show")
	serviceCmd.AddCommand(logsCmd)

	return serviceCmd
}

// serviceConfig builds the service settings from flags.
func serviceConfig() svc.Config {
	cfg := svc.DefaultConfig()
	if serviceName != "" {
		cfg.Name = serviceName
	}
	if cfgFile != "" {
		cfg.ConfigPath = cfgFile
	}
	cfg.UserName = serviceUser
	return cfg
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := serviceConfig()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file %s: %w", cfg.ConfigPath, err)
	}
	// Fail now rather than in a restart loop under the service manager.
	if c, err := config.Load(cfg.ConfigPath); err != nil {
		return err
	} else if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Info().Str("name", cfg.Name).Str("config", cfg.ConfigPath).Msg("installing service")
	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Service %q installed.\n", cfg.Name)
	_, _ = fmt.Fprintf(out, "\nStart it with:\n  catmosaic service start --name %s\n", cfg.Name)
	return nil
}
