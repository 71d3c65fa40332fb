package transports

import (
	"context"

	"github.com/voxlate/voxlate/pkg/frames"
)

// Transport defines a vendor-agnostic I/O boundary for carrier media
// frames. Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// CallEnder allows transports to hang up an active call.
type CallEnder interface {
	EndCall(ctx context.Context, callSID string) error
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
