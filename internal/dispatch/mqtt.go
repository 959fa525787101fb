package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devsync-core/internal/infrastructure/mqtt"
)

// Ack statuses reported by gateways.
const (
	ackStatusOK      = "ok"
	ackStatusError   = "error"
	ackStatusInvalid = "invalid"
)

// MQTTClient is the subset of the MQTT client the transport needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Logger defines the logging interface used by transports.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// commandMessage is published on devsync/command/{protocol}/{device}.
type commandMessage struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Address   string         `json:"address,omitempty"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ackMessage is received on devsync/ack/{protocol}/{device}.
type ackMessage struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type ackOutcome struct {
	ack Ack
	err error
}

// MQTTTransport delivers commands through transport gateways over MQTT and
// waits for the matching acknowledgement.
type MQTTTransport struct {
	client MQTTClient
	qos    byte
	logger Logger

	mu      sync.Mutex
	pending map[string]chan ackOutcome
}

// NewMQTTTransport creates a transport publishing with the given QoS.
// Call Start to subscribe to acknowledgements.
func NewMQTTTransport(client MQTTClient, qos byte) *MQTTTransport {
	return &MQTTTransport{
		client:  client,
		qos:     qos,
		logger:  noopLogger{},
		pending: make(map[string]chan ackOutcome),
	}
}

// SetLogger sets the logger for the transport.
func (t *MQTTTransport) SetLogger(logger Logger) {
	t.logger = logger
}

// Start subscribes to acknowledgements from every gateway.
func (t *MQTTTransport) Start() error {
	if err := t.client.Subscribe(mqtt.Topics{}.AllDeviceAcks(), t.qos, t.HandleAck); err != nil {
		return fmt.Errorf("subscribing to acks: %w", err)
	}
	return nil
}

// Reachable reports whether the broker is connected and the device is online.
func (t *MQTTTransport) Reachable(target Target) bool {
	return target.Online && t.client.IsConnected()
}

// Send publishes the command and blocks until the device acknowledges it or
// ctx ends. A deadline expiry is reported as ErrTimeout.
func (t *MQTTTransport) Send(ctx context.Context, target Target, commandName string, params map[string]any) (Ack, error) {
	if commandName == "" {
		return Ack{}, fmt.Errorf("%w: empty command name", ErrInvalidCommand)
	}
	if !t.client.IsConnected() {
		return Ack{}, fmt.Errorf("%w: broker not connected", ErrUnreachable)
	}

	id := target.CommandID
	if id == "" {
		id = uuid.New().String()
	}

	payload, err := json.Marshal(commandMessage{
		ID:        id,
		DeviceID:  target.DeviceID,
		Address:   target.Address,
		Command:   commandName,
		Params:    params,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return Ack{}, fmt.Errorf("%w: encoding params: %w", ErrInvalidCommand, err)
	}

	wait := make(chan ackOutcome, 1)
	t.mu.Lock()
	t.pending[id] = wait
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	topic := mqtt.Topics{}.DeviceCommand(target.Protocol, target.DeviceID)
	if err := t.client.Publish(topic, payload, t.qos, false); err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	select {
	case out := <-wait:
		return out.ack, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Ack{}, fmt.Errorf("%w: command %s", ErrTimeout, id)
		}
		return Ack{}, ctx.Err()
	}
}

// HandleAck resolves the pending Send for an acknowledgement. Acks for
// commands nobody is waiting on (for example after a timeout) are dropped.
func (t *MQTTTransport) HandleAck(topic string, payload []byte) error {
	var msg ackMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding ack on %s: %w", topic, err)
	}
	if msg.ID == "" {
		return fmt.Errorf("ack on %s has no command id", topic)
	}

	t.mu.Lock()
	wait, ok := t.pending[msg.ID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("ack for unknown command dropped", "command_id", msg.ID, "topic", topic)
		return nil
	}

	var out ackOutcome
	switch msg.Status {
	case ackStatusOK:
		out.ack = Ack{CommandID: msg.ID, Result: msg.Result, ReceivedAt: time.Now().UTC()}
	case ackStatusInvalid:
		out.err = fmt.Errorf("%w: %s", ErrInvalidCommand, msg.Error)
	case ackStatusError:
		out.err = fmt.Errorf("%w: %s", ErrDeviceError, msg.Error)
	default:
		t.logger.Warn("ack with unknown status", "command_id", msg.ID, "status", msg.Status)
		out.err = fmt.Errorf("%w: unknown ack status %q", ErrDeviceError, msg.Status)
	}

	select {
	case wait <- out:
	default:
	}
	return nil
}

// Pending returns the number of commands awaiting acknowledgement.
func (t *MQTTTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
