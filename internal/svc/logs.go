package svc

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// LogOptions configures log viewing.
type LogOptions struct {
	Name   string
	Follow bool
	Lines  int
}

// LogCommand returns the platform command that shows the service's logs.
func LogCommand(goos string, opts LogOptions) ([]string, error) {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}
	n := strconv.Itoa(opts.Lines)

	switch goos {
	case "linux":
		args := []string{"journalctl", "-u", opts.Name, "-n", n, "--no-pager", "-o", "cat"}
		if opts.Follow {
			args = append(args, "-f")
		}
		return args, nil
	case "darwin":
		// launchd writes to files named after the service
		args := []string{"tail", "-n", n}
		if opts.Follow {
			args = append(args, "-F")
		}
		return append(args,
			fmt.Sprintf("/usr/local/var/log/%s.out.log", opts.Name),
			fmt.Sprintf("/usr/local/var/log/%s.err.log", opts.Name),
		), nil
	case "windows":
		script := fmt.Sprintf("Get-WinEvent -FilterHashtable @{LogName='Application'; ProviderName='%s'} -MaxEvents %d | Format-Table TimeCreated,LevelDisplayName,Message -Wrap", opts.Name, opts.Lines)
		return []string{"powershell", "-NoProfile", "-Command", script}, nil
	default:
		return nil, fmt.Errorf("log viewing not supported on %s", goos)
	}
}

// ViewLogs runs the log command for goos attached to the terminal.
func ViewLogs(goos string, opts LogOptions) error {
	args, err := LogCommand(goos, opts)
	if err != nil {
		return err
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
