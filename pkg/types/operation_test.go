package types

import (
	"errors"
	"testing"
)

func TestParseOpKind(t *testing.T) {
	tests := []struct {
		in      string
		want    OpKind
		wantErr bool
	}{
		{"R", OpRead, false},
		{"W", OpWrite, false},
		{"r", 0, true},
		{"RW", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseOpKind(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownOpKind) {
				t.Errorf("ParseOpKind(%q): expected ErrUnknownOpKind, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseOpKind(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseOpKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOperation_String(t *testing.T) {
	if got := Read(12).String(); got != "R 12" {
		t.Errorf("got %q, want %q", got, "R 12")
	}
	if got := Write(0).String(); got != "W 0" {
		t.Errorf("got %q, want %q", got, "W 0")
	}
}

func TestTraceHeader_Contains(t *testing.T) {
	h := &TraceHeader{NumNodes: 7, PopularNodes: []int{0, 1, 2, 5}}
	if h.NumPopular() != 4 {
		t.Errorf("expected 4 popular nodes, got %d", h.NumPopular())
	}
	if !h.Contains(0) || !h.Contains(6) {
		t.Error("expected ids 0 and 6 to be in range")
	}
	if h.Contains(7) || h.Contains(-1) {
		t.Error("expected ids 7 and -1 to be out of range")
	}
}
