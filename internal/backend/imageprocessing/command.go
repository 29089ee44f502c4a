package imageprocessing

import (
	"context"
	"fmt"
	"image"
	"sort"
)

// Frame is a decoded image travelling through the normalization pipeline.
type Frame struct {
	Image  image.Image
	Format Format
	// Raw holds the original encoded bytes; commands must treat it as read-only.
	Raw []byte
}

// Command defines the interface for all normalization commands
type Command interface {
	Name() string
	Execute(ctx context.Context, frame *Frame) (*Frame, error)
}

// CommandFactory is a function type that creates a command from configuration parameters
type CommandFactory func(params map[string]any) (Command, error)

// CommandConfig represents a command configuration with name and parameters
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

// DefaultCommandConfigs is the normalization pipeline used when none is configured.
func DefaultCommandConfigs() []CommandConfig {
	return []CommandConfig{
		{Name: "AutoOrientCommand"},
		{Name: "CanonicalPixelCommand"},
	}
}

// CommandRegistry manages the registration and creation of normalization commands
type CommandRegistry struct {
	factories map[string]CommandFactory
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		factories: make(map[string]CommandFactory),
	}
}

// Register adds a command factory to the registry
func (r *CommandRegistry) Register(name string, factory CommandFactory) error {
	if name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("command factory cannot be nil")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("command %s is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create instantiates a command by name with the given parameters
func (r *CommandRegistry) Create(name string, params map[string]any) (Command, error) {
	factory, exists := r.factories[name]
	if !exists {
		return nil, fmt.Errorf("unknown command: %s", name)
	}

	command, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create command %s: %w", name, err)
	}

	return command, nil
}

// CreateAll builds the commands of a pipeline in configuration order.
func (r *CommandRegistry) CreateAll(configs []CommandConfig) ([]Command, error) {
	commands := make([]Command, 0, len(configs))
	for i, cfg := range configs {
		command, err := r.Create(cfg.Name, cfg.Params)
		if err != nil {
			return nil, fmt.Errorf("command at index %d: %w", i, err)
		}
		commands = append(commands, command)
	}
	return commands, nil
}

// IsRegistered checks if a command with the given name is registered
func (r *CommandRegistry) IsRegistered(name string) bool {
	_, exists := r.factories[name]
	return exists
}

// GetRegisteredNames returns all registered command names in sorted order
func (r *CommandRegistry) GetRegisteredNames() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is a global registry instance with the built-in commands pre-registered
var DefaultRegistry = NewCommandRegistry()
