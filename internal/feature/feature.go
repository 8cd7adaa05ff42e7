// Package feature wraps Windows feature management for the local host. The
// feature fixture is one more checked side effect, never verified against
// remote nodes.
package feature

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

type Manager interface {
	Install(ctx context.Context, name string) error
	IsInstalled(ctx context.Context, name string) (bool, error)
	Uninstall(ctx context.Context, name string) error
}

type powershell struct{}

func New() Manager {
	return powershell{}
}

func (powershell) Install(ctx context.Context, name string) error {
	slog.Info("Installing host feature", "name", name)
	return run(ctx, fmt.Sprintf("Install-WindowsFeature -Name '%s' | Out-Null", name))
}

func (powershell) Uninstall(ctx context.Context, name string) error {
	slog.Info("Uninstalling host feature", "name", name)
	return run(ctx, fmt.Sprintf("Uninstall-WindowsFeature -Name '%s' | Out-Null", name))
}

func (powershell) IsInstalled(ctx context.Context, name string) (bool, error) {
	out, err := output(ctx, fmt.Sprintf("(Get-WindowsFeature -Name '%s').Installed", name))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(out), "true"), nil
}

func run(ctx context.Context, command string) error {
	_, err := output(ctx, command)
	return err
}

func output(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("powershell %q: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
