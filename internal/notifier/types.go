package notifier

import (
	"errors"
	"fmt"

	kit "simlog/internal/transport"
)

// Config configures the notifier.
type Config struct {
	Target kit.ChatTarget
	// Reaction is added to every delivered message. Empty disables it.
	Reaction string
	// RatePerSec throttles sends. <= 0 disables throttling.
	RatePerSec float64
	Burst      int
	// Color is the embed accent used by sinks that support one.
	Color int
}

// DefaultColor is the accent of announcement embeds.
const DefaultColor = 0xaef4ae

// DeliveryError reports a notification the sink did not accept.
type DeliveryError struct {
	Event string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Event, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDelivery reports whether err is (or wraps) a *DeliveryError.
func IsDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
