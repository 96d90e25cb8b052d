// Package lifecycle owns the order state machine and the operations that move
// an order through it: placement, status changes, observation and tracking.
package lifecycle

import (
	"fmt"

	"github.com/tableside/api/internal/enum"
)

// Statuses in fulfillment order.
var Statuses = []string{
	enum.OrderStatusPending,
	enum.OrderStatusPreparing,
	enum.OrderStatusReady,
	enum.OrderStatusCompleted,
	enum.OrderStatusCancelled,
}

// allowedTransitions defines valid status transitions.
// Key is current status, value is the set of statuses it can transition to.
// Staff may skip forward; nothing moves backward or out of a terminal state.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusPreparing, enum.OrderStatusReady, enum.OrderStatusCompleted, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing: {enum.OrderStatusReady, enum.OrderStatusCompleted, enum.OrderStatusCancelled},
	enum.OrderStatusReady:     {enum.OrderStatusCompleted, enum.OrderStatusCancelled},
}

func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func IsTerminal(s string) bool {
	return s == enum.OrderStatusCompleted || s == enum.OrderStatusCancelled
}

func CanTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatus is the single forward step from s, or "" for terminal states.
func NextStatus(s string) string {
	switch s {
	case enum.OrderStatusPending:
		return enum.OrderStatusPreparing
	case enum.OrderStatusPreparing:
		return enum.OrderStatusReady
	case enum.OrderStatusReady:
		return enum.OrderStatusCompleted
	}
	return ""
}

// Targets lists the statuses an order in s may move to.
func Targets(s string) []string {
	return append([]string(nil), allowedTransitions[s]...)
}

// validateTransition checks if the transition from current to next is allowed.
func validateTransition(current, next string) error {
	if !ValidStatus(next) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if !CanTransition(current, next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
	}
	return nil
}

// IsActive reports whether the order is still in the kitchen's hands.
func IsActive(s string) bool {
	return s == enum.OrderStatusPending || s == enum.OrderStatusPreparing || s == enum.OrderStatusReady
}
