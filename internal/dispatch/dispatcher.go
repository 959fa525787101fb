package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/devsync-core/internal/infrastructure/metrics"
)

// Target identifies the device a command is delivered to.
type Target struct {
	DeviceID string
	Protocol string

	// Address is the transport-level address (MAC, IP or serial port).
	Address string

	// Online is the last known link state from hardware callbacks.
	Online bool

	// CommandID correlates the acknowledgement. Transports generate one
	// when it is empty.
	CommandID string
}

// Ack is a positive acknowledgement from a device.
type Ack struct {
	CommandID  string         `json:"command_id"`
	Result     map[string]any `json:"result,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Dispatcher delivers a command to a device and waits for the outcome.
// Implementations must honour ctx cancellation and deadlines.
type Dispatcher interface {
	Send(ctx context.Context, target Target, commandName string, params map[string]any) (Ack, error)
}

// Transport is a Dispatcher for one or more protocols that can also report
// whether a device is directly reachable right now.
type Transport interface {
	Dispatcher
	Reachable(target Target) bool
}

// Router sends each command over the transport registered for the target's
// protocol.
type Router struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{transports: make(map[string]Transport)}
}

// Register assigns a transport to a protocol, replacing any previous one.
func (r *Router) Register(protocol string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[protocol] = t
}

// Protocols returns the protocols with a registered transport.
func (r *Router) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.transports))
	for p := range r.transports {
		out = append(out, p)
	}
	return out
}

func (r *Router) transport(protocol string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[protocol]
	return t, ok
}

// Send routes the command by protocol. ErrNoTransport is returned when no
// transport serves the target's protocol.
func (r *Router) Send(ctx context.Context, target Target, commandName string, params map[string]any) (Ack, error) {
	t, ok := r.transport(target.Protocol)
	if !ok {
		return Ack{}, fmt.Errorf("%w: %q", ErrNoTransport, target.Protocol)
	}

	start := time.Now()
	ack, err := t.Send(ctx, target, commandName, params)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveDispatch(target.Protocol, result, time.Since(start))
	return ack, err
}

// Reachable reports whether a local transport can deliver to target now.
// Commands for unreachable devices are forwarded through the remote service.
func (r *Router) Reachable(target Target) bool {
	t, ok := r.transport(target.Protocol)
	if !ok {
		return false
	}
	return t.Reachable(target)
}
