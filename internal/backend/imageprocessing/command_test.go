package imageprocessing

import (
	"context"
	"errors"
	"image/color"
	"reflect"
	"testing"
)

// stubCommand records calls and optionally fails.
type stubCommand struct {
	name  string
	err   error
	calls *[]string
}

func (c *stubCommand) Name() string { return c.name }

func (c *stubCommand) Execute(ctx context.Context, frame *Frame) (*Frame, error) {
	if c.calls != nil {
		*c.calls = append(*c.calls, c.name)
	}
	if c.err != nil {
		return nil, c.err
	}
	return frame, nil
}

func stubFactory(name string) CommandFactory {
	return func(params map[string]any) (Command, error) {
		return &stubCommand{name: name}, nil
	}
}

func TestNewCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()
	if registry == nil {
		t.Fatal("Expected non-nil registry")
	}
	if registry.factories == nil {
		t.Fatal("Expected non-nil factories map")
	}
}

func TestCommandRegistry_Register(t *testing.T) {
	registry := NewCommandRegistry()

	if err := registry.Register("TestCommand", stubFactory("TestCommand")); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := registry.Register("TestCommand", stubFactory("TestCommand")); err == nil {
		t.Error("Expected error for duplicate registration")
	}
	if err := registry.Register("", stubFactory("")); err == nil {
		t.Error("Expected error for empty name")
	}
	if err := registry.Register("NilFactory", nil); err == nil {
		t.Error("Expected error for nil factory")
	}
}

func TestCommandRegistry_Create(t *testing.T) {
	registry := NewCommandRegistry()
	_ = registry.Register("TestCommand", stubFactory("TestCommand"))
	_ = registry.Register("Broken", func(params map[string]any) (Command, error) {
		return nil, errors.New("bad params")
	})

	command, err := registry.Create("TestCommand", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if command.Name() != "TestCommand" {
		t.Errorf("Expected name TestCommand, got %s", command.Name())
	}

	if _, err := registry.Create("Unknown", nil); err == nil {
		t.Error("Expected error for unknown command")
	}
	if _, err := registry.Create("Broken", nil); err == nil {
		t.Error("Expected factory error to be returned")
	}
}

func TestCommandRegistry_CreateAll(t *testing.T) {
	registry := NewCommandRegistry()
	_ = registry.Register("A", stubFactory("A"))
	_ = registry.Register("B", stubFactory("B"))

	commands, err := registry.CreateAll([]CommandConfig{{Name: "B"}, {Name: "A"}})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(commands) != 2 || commands[0].Name() != "B" || commands[1].Name() != "A" {
		t.Fatalf("Expected commands in configuration order, got %v", commands)
	}

	if _, err := registry.CreateAll([]CommandConfig{{Name: "A"}, {Name: "Missing"}}); err == nil {
		t.Error("Expected error when one command is unknown")
	}
}

func TestCommandRegistry_GetRegisteredNames(t *testing.T) {
	registry := NewCommandRegistry()
	_ = registry.Register("Zeta", stubFactory("Zeta"))
	_ = registry.Register("Alpha", stubFactory("Alpha"))

	if got := registry.GetRegisteredNames(); !reflect.DeepEqual(got, []string{"Alpha", "Zeta"}) {
		t.Errorf("Expected sorted names, got %v", got)
	}
	if !registry.IsRegistered("Alpha") || registry.IsRegistered("Beta") {
		t.Error("IsRegistered returned an unexpected result")
	}
}

func TestDefaultRegistry_HasDefaultPipeline(t *testing.T) {
	for _, cfg := range DefaultCommandConfigs() {
		if !DefaultRegistry.IsRegistered(cfg.Name) {
			t.Errorf("Expected %s to be registered", cfg.Name)
		}
	}
}

func TestGetBoolParam(t *testing.T) {
	params := map[string]any{"a": true, "b": "FALSE", "c": "maybe", "d": 3}
	if !GetBoolParam(params, "a", false) {
		t.Error("Expected native bool true")
	}
	if GetBoolParam(params, "b", true) {
		t.Error("Expected string false")
	}
	if !GetBoolParam(params, "c", true) || !GetBoolParam(params, "d", true) || GetBoolParam(params, "missing", false) {
		t.Error("Expected default for unparseable or missing values")
	}
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#10a0ff")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c != (color.RGBA{R: 0x10, G: 0xa0, B: 0xff, A: 0xff}) {
		t.Errorf("Unexpected color %v", c)
	}
	for _, bad := range []string{"", "#fff", "#gggggg", "1234567"} {
		if _, err := ParseHexColor(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
