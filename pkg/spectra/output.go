package spectra

import (
	"context"
)

// Output consumes analyzer events, typically a renderer.
type Output interface {
	// Start receives a context and should run in a loop, terminating upon ctx closing or on any errors.
	Start(ctx context.Context) error
	// Receive returns a channel that receives events. The analyzer never
	// blocks on it; events are skipped when the channel is full.
	Receive() chan<- Event
}
