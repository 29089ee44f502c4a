package imageprocessing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CommandInvoker executes a sequence of commands on a decoded frame
type CommandInvoker struct {
	commands []Command
}

// NewCommandInvoker creates a new command invoker
func NewCommandInvoker(commands []Command) *CommandInvoker {
	return &CommandInvoker{
		commands: commands,
	}
}

// Execute applies all commands in sequence. The context is checked before each
// command so an abandoned verification stops between stages.
func (i *CommandInvoker) Execute(ctx context.Context, frame *Frame) (*Frame, error) {
	start := time.Now()

	if len(i.commands) == 0 {
		slog.Debug("no normalization commands to execute, returning frame unchanged")
		return frame, nil
	}

	current := frame
	for idx, command := range i.commands {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("normalization interrupted before %s: %w", command.Name(), err)
		}

		commandStart := time.Now()
		next, err := command.Execute(ctx, current)
		if err != nil {
			slog.Error("normalization command failed",
				"index", idx,
				"command_name", command.Name(),
				"error", err)
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), idx, err)
		}

		slog.Debug("normalization command completed",
			"index", idx,
			"command_name", command.Name(),
			"duration_ms", time.Since(commandStart).Milliseconds())
		current = next
	}

	slog.Debug("normalization pipeline completed",
		"total_duration_ms", time.Since(start).Milliseconds(),
		"command_count", len(i.commands))

	return current, nil
}

// Names returns the command names in execution order.
func (i *CommandInvoker) Names() []string {
	names := make([]string, len(i.commands))
	for idx, command := range i.commands {
		names[idx] = command.Name()
	}
	return names
}
