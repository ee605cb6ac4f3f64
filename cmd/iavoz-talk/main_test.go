package main

import (
	"testing"
	"time"

	"github.com/MrWong99/iavoz/pkg/types"
)

func TestCaptureLayoutFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		caps    types.Capabilities
		preRoll int
		chunk   time.Duration
		want    captureLayout
	}{
		{"backend silent", types.Capabilities{}, -1, 0, captureLayout{3, 100 * time.Millisecond}},
		{"from backend", types.Capabilities{PreRollChunks: 5, ChunkMS: 40}, -1, 0, captureLayout{5, 40 * time.Millisecond}},
		{"flags win", types.Capabilities{PreRollChunks: 5, ChunkMS: 40}, 0, 20 * time.Millisecond, captureLayout{0, 20 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := captureLayoutFor(tt.caps, tt.preRoll, tt.chunk); got != tt.want {
				t.Errorf("captureLayoutFor = %+v, want %+v", got, tt.want)
			}
		})
	}
}
