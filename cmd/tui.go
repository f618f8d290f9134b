package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/lucky-verma/music-discovery/internal/shared"
	"github.com/lucky-verma/music-discovery/internal/ui"
)

// JobsWatch launches the live queue monitor against the running daemon.
func (r *Runner) JobsWatch(ctx context.Context, cmd *cli.Command) error {
	client := r.daemon(cmd)

	// The daemon must be reachable before the TUI takes over the terminal.
	if _, err := client.Stats(); err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/musicd-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.logger = fileLogger

	model := ui.NewModel(client, client)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
