package imageprocessing

import (
	"context"
	"testing"
)

func TestNewScaleDownCommand_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing both", map[string]any{}},
		{"missing height", map[string]any{"maxWidth": 100}},
		{"zero width", map[string]any{"maxWidth": 0, "maxHeight": 100}},
		{"negative height", map[string]any{"maxWidth": 100, "maxHeight": -1}},
		{"string width", map[string]any{"maxWidth": "100", "maxHeight": 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScaleDownCommand(tt.params); err == nil {
				t.Errorf("expected error for %v", tt.params)
			}
		})
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		maxW, maxH int
		wantW      int
		wantH      int
	}{
		{"fits", 100, 50, 200, 200, 100, 50},
		{"exact", 200, 200, 200, 200, 200, 200},
		{"wide", 400, 100, 200, 200, 200, 50},
		{"tall", 100, 400, 200, 200, 50, 200},
		{"square into wide box", 1000, 1000, 400, 200, 200, 200},
		{"extreme strip keeps one row", 10000, 10, 100, 100, 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := fitWithin(tt.w, tt.h, tt.maxW, tt.maxH)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("fitWithin(%d, %d, %d, %d) = %dx%d, want %dx%d",
					tt.w, tt.h, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestScaleDownCommand_Execute(t *testing.T) {
	cmd, err := NewScaleDownCommand(map[string]any{"maxWidth": 64, "maxHeight": 64})
	if err != nil {
		t.Fatalf("NewScaleDownCommand error: %v", err)
	}
	if cmd.Name() != "ScaleDownCommand" {
		t.Errorf("Name() = %q", cmd.Name())
	}

	large := &Frame{Image: testImage(256, 128), Format: FormatPNG}
	out, err := cmd.Execute(context.Background(), large)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got := out.Image.Bounds(); got.Dx() != 64 || got.Dy() != 32 {
		t.Errorf("scaled bounds = %v, want 64x32", got)
	}
	if out.Format != FormatPNG {
		t.Errorf("format changed to %v", out.Format)
	}

	small := &Frame{Image: testImage(10, 10), Format: FormatJPEG}
	out, err = cmd.Execute(context.Background(), small)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out != small {
		t.Error("expected images inside the box to pass through unchanged")
	}
}

func TestScaleDownCommand_RegisteredByName(t *testing.T) {
	cmds, err := DefaultRegistry.CreateAll([]CommandConfig{
		{Name: "ScaleDownCommand", Params: map[string]any{"maxWidth": 10, "maxHeight": 10}},
	})
	if err != nil {
		t.Fatalf("CreateAll error: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Name() != "ScaleDownCommand" {
		t.Errorf("unexpected commands %v", cmds)
	}
}
