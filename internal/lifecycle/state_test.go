package lifecycle

import (
	"errors"
	"testing"

	"github.com/tableside/api/internal/enum"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{enum.OrderStatusPending, enum.OrderStatusPreparing, true},
		{enum.OrderStatusPreparing, enum.OrderStatusReady, true},
		{enum.OrderStatusReady, enum.OrderStatusCompleted, true},
		{enum.OrderStatusPending, enum.OrderStatusReady, true},
		{enum.OrderStatusPending, enum.OrderStatusCompleted, true},
		{enum.OrderStatusPending, enum.OrderStatusCancelled, true},
		{enum.OrderStatusPreparing, enum.OrderStatusCancelled, true},
		{enum.OrderStatusReady, enum.OrderStatusCancelled, true},

		{enum.OrderStatusPending, enum.OrderStatusPending, false},
		{enum.OrderStatusReady, enum.OrderStatusPreparing, false},
		{enum.OrderStatusPreparing, enum.OrderStatusPending, false},
		{enum.OrderStatusCompleted, enum.OrderStatusCancelled, false},
		{enum.OrderStatusCompleted, enum.OrderStatusPending, false},
		{enum.OrderStatusCancelled, enum.OrderStatusPending, false},
		{enum.OrderStatusCancelled, enum.OrderStatusCompleted, false},
		{"bogus", enum.OrderStatusReady, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatesHaveNoTargets(t *testing.T) {
	for _, s := range Statuses {
		if IsTerminal(s) && len(Targets(s)) != 0 {
			t.Errorf("terminal status %s has targets %v", s, Targets(s))
		}
		if !IsTerminal(s) && NextStatus(s) == "" {
			t.Errorf("non-terminal status %s has no next status", s)
		}
	}
}

func TestNextStatus(t *testing.T) {
	chain := []string{enum.OrderStatusPending}
	for s := NextStatus(chain[0]); s != ""; s = NextStatus(s) {
		chain = append(chain, s)
	}
	want := []string{enum.OrderStatusPending, enum.OrderStatusPreparing, enum.OrderStatusReady, enum.OrderStatusCompleted}
	if len(chain) != len(want) {
		t.Fatalf("chain: got %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain: got %v, want %v", chain, want)
		}
	}
}

func TestValidateTransition(t *testing.T) {
	if err := validateTransition(enum.OrderStatusPending, "shipped"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("unknown target: got %v, want ErrInvalidStatus", err)
	}
	if err := validateTransition(enum.OrderStatusReady, enum.OrderStatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("backward: got %v, want ErrInvalidTransition", err)
	}
	if err := validateTransition(enum.OrderStatusReady, enum.OrderStatusCompleted); err != nil {
		t.Fatalf("forward: unexpected %v", err)
	}
}
