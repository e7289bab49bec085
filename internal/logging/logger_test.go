package logging

import "testing"

func TestNew(t *testing.T) {
	for _, development := range []bool{true, false} {
		logger, err := New(development, "debug")
		if err != nil {
			t.Fatalf("New(%v) error = %v", development, err)
		}
		if logger == nil {
			t.Fatalf("New(%v) returned nil logger", development)
		}
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(false, "shouting"); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}
