// Package svc installs and runs catmosaic as a system service (systemd,
// launchd or the Windows Service Control Manager).
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// RunFlag marks a process started by the service manager. Its value is the
// service name.
const RunFlag = "--service"

// RunFunc runs the pipeline until ctx is cancelled.
type RunFunc func(ctx context.Context) error

// Program adapts a RunFunc to service.Interface.
type Program struct {
	Run RunFunc

	cancel context.CancelFunc
	done   chan error
}

// Start is called by the service manager and must not block.
func (p *Program) Start(s service.Service) error {
	if p.Run == nil {
		return errors.New("no run function configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	go func() {
		err := p.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("catmosaic exited")
		}
		p.done <- err
	}()
	return nil
}

// Stop cancels the run and waits for it to return.
func (p *Program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	if err := <-p.done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Config describes the installed service.
type Config struct {
	Name        string
	DisplayName string
	Description string
	ConfigPath  string // passed to `catmosaic run --config`
	UserName    string // Linux/macOS only
}

// DefaultConfig returns the service settings used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Name:        "catmosaic",
		DisplayName: "catmosaic",
		Description: "catmosaic image ingest and batch upload daemon",
		ConfigPath:  DefaultConfigPath(),
	}
}

// DefaultConfigPath returns the platform config file location.
func DefaultConfigPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "catmosaic", "catmosaic.yaml")
	}
	return "/etc/catmosaic/catmosaic.yaml"
}

// Arguments returns the command line the service manager starts.
func (c Config) Arguments() []string {
	return []string{"run", RunFlag, c.Name, "--config", c.ConfigPath, "--log-format", "json"}
}

func (c Config) serviceConfig() *service.Config {
	sc := &service.Config{
		Name:        c.Name,
		DisplayName: c.DisplayName,
		Description: c.Description,
		Arguments:   c.Arguments(),
	}

	switch runtime.GOOS {
	case "linux":
		sc.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		sc.Option = service.KeyValue{"Restart": "on-failure", "RestartSec": "5"}
		sc.UserName = c.UserName
	case "darwin":
		sc.Option = service.KeyValue{"KeepAlive": true, "RunAtLoad": true}
		sc.UserName = c.UserName
	case "windows":
		sc.Option = service.KeyValue{"OnFailure": "restart", "OnFailureDelay": "5s"}
	}
	return sc
}

func newService(c Config, run RunFunc) (service.Service, error) {
	s, err := service.New(&Program{Run: run}, c.serviceConfig())
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return s, nil
}

// Install registers the service. With force an existing install is replaced.
func Install(c Config, force bool) error {
	s, err := newService(c, nil)
	if err != nil {
		return err
	}

	if status, err := s.Status(); err == nil && status != service.StatusUnknown {
		if !force {
			return fmt.Errorf("service %q already installed; use --force to reinstall", c.Name)
		}
		if status == service.StatusRunning {
			if err := s.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
		}
		if err := s.Uninstall(); err != nil {
			log.Warn().Err(err).Msg("failed to uninstall service")
		}
	}

	if err := s.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	return nil
}

// Uninstall stops the service if needed and removes it.
func Uninstall(c Config) error {
	s, err := newService(c, nil)
	if err != nil {
		return err
	}
	if status, _ := s.Status(); status == service.StatusRunning {
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}
	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Control sends "start", "stop" or "restart" to the service manager.
func Control(c Config, action string) error {
	switch action {
	case "start", "stop", "restart":
	default:
		return fmt.Errorf("unknown service action %q", action)
	}
	s, err := newService(c, nil)
	if err != nil {
		return err
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("%s service: %w", action, err)
	}
	return nil
}

// Status returns "running", "stopped", "not installed" or "unknown".
func Status(c Config) (string, error) {
	s, err := newService(c, nil)
	if err != nil {
		return "unknown", err
	}
	status, err := s.Status()
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed", nil
	}
	if err != nil {
		return "unknown", err
	}
	return StatusString(status), nil
}

// StatusString returns a human-readable status.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run hands control to the service manager until it stops the service.
func Run(c Config, run RunFunc) error {
	s, err := newService(c, run)
	if err != nil {
		return err
	}
	return s.Run()
}

// CheckPrivileges returns an error when service management will fail for
// lack of root.
func CheckPrivileges() error {
	if runtime.GOOS != "windows" && os.Geteuid() != 0 {
		return errors.New("root privileges required (use sudo)")
	}
	return nil
}
