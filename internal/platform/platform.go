// Package platform drives the hosting platform's own procedures: install
// state, first-time install and service configuration regeneration.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/script"
)

// Platform is the set of platform operations a restore needs.
type Platform interface {
	IsInstalled() bool
	PostInstall(ctx context.Context, domain string) error
	Regenerate(ctx context.Context) error
}

// Commands implements Platform with a marker file and external commands.
type Commands struct {
	marker      string
	postInstall []string
	regen       []string
	runner      script.Runner
}

var _ Platform = (*Commands)(nil)

// NewCommands creates a Platform. postInstall gets the domain appended.
func NewCommands(marker string, postInstall, regen []string, runner script.Runner) *Commands {
	return &Commands{
		marker:      marker,
		postInstall: postInstall,
		regen:       regen,
		runner:      runner,
	}
}

// IsInstalled reports whether the installed marker file exists.
func (c *Commands) IsInstalled() bool {
	info, err := os.Stat(c.marker)
	return err == nil && !info.IsDir()
}

// PostInstall runs the first-time install procedure for domain.
func (c *Commands) PostInstall(ctx context.Context, domain string) error {
	if domain == "" {
		return fmt.Errorf("post-install requires a domain")
	}
	log.WithComponent("platform").Info("running post-install", "domain", domain)
	return c.run(ctx, "post-install", c.postInstall, domain)
}

// Regenerate rebuilds the reverse proxy and SSO configuration.
func (c *Commands) Regenerate(ctx context.Context) error {
	log.WithComponent("platform").Info("regenerating service configuration")
	return c.run(ctx, "regenerate", c.regen)
}

func (c *Commands) run(ctx context.Context, what string, command []string, extra ...string) error {
	if len(command) == 0 {
		return fmt.Errorf("%s: no command configured", what)
	}
	args := append(append([]string{}, command[1:]...), extra...)
	_, err := c.runner.Run(ctx, script.Request{Path: command[0], Args: args})
	if err != nil {
		var exitErr *script.ExitError
		if errors.As(err, &exitErr) {
			log.WithComponent("platform").Error(what+" failed", "exit_code", exitErr.ExitCode, "stderr", exitErr.Stderr)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
