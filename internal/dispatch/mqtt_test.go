package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devsync-core/internal/infrastructure/mqtt"
)

// fakeMQTT records publishes and can answer each command with an ack.
type fakeMQTT struct {
	mu          sync.Mutex
	connected   bool
	published   []string
	subscribed  []string
	publishErr  error
	respond     func(cmd commandMessage) *ackMessage
	ackHandler  mqtt.MessageHandler
	ackDelivery sync.WaitGroup
}

func (f *fakeMQTT) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, topic)

	if f.respond != nil && f.ackHandler != nil {
		var cmd commandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return err
		}
		if ack := f.respond(cmd); ack != nil {
			body, _ := json.Marshal(ack)
			handler := f.ackHandler
			f.ackDelivery.Add(1)
			go func() {
				defer f.ackDelivery.Done()
				handler(mqtt.Topics{}.DeviceAck("ble", cmd.DeviceID), body) //nolint:errcheck // test delivery
			}()
		}
	}
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	f.ackHandler = handler
	return nil
}

func (f *fakeMQTT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func newTestTransport(t *testing.T, client *fakeMQTT) *MQTTTransport {
	t.Helper()
	tr := NewMQTTTransport(client, 1)
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(client.ackDelivery.Wait)
	return tr
}

func TestMQTTTransport_Start(t *testing.T) {
	client := &fakeMQTT{connected: true}
	newTestTransport(t, client)

	if len(client.subscribed) != 1 || client.subscribed[0] != "devsync/ack/+/+" {
		t.Errorf("subscribed = %v, want [devsync/ack/+/+]", client.subscribed)
	}
}

func TestMQTTTransport_SendAcknowledged(t *testing.T) {
	client := &fakeMQTT{
		connected: true,
		respond: func(cmd commandMessage) *ackMessage {
			return &ackMessage{ID: cmd.ID, Status: ackStatusOK, Result: map[string]any{"applied": true}}
		},
	}
	tr := newTestTransport(t, client)

	target := Target{DeviceID: "dev-1", Protocol: "ble", Online: true, CommandID: "cmd-1"}
	ack, err := tr.Send(context.Background(), target, "set_threshold", map[string]any{"value": 5})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ack.CommandID != "cmd-1" || ack.Result["applied"] != true {
		t.Errorf("Send() ack = %+v", ack)
	}
	if client.published[0] != "devsync/command/ble/dev-1" {
		t.Errorf("published to %q", client.published[0])
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d after ack, want 0", tr.Pending())
	}
}

func TestMQTTTransport_SendErrors(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeMQTT
		command string
		wantErr error
	}{
		{
			name:    "empty command",
			client:  &fakeMQTT{connected: true},
			command: "",
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "broker disconnected",
			client:  &fakeMQTT{connected: false},
			command: "reboot",
			wantErr: ErrUnreachable,
		},
		{
			name:    "publish fails",
			client:  &fakeMQTT{connected: true, publishErr: errors.New("queue full")},
			command: "reboot",
			wantErr: ErrUnreachable,
		},
		{
			name: "device rejects as invalid",
			client: &fakeMQTT{connected: true, respond: func(cmd commandMessage) *ackMessage {
				return &ackMessage{ID: cmd.ID, Status: ackStatusInvalid, Error: "unknown command"}
			}},
			command: "reboot",
			wantErr: ErrInvalidCommand,
		},
		{
			name: "device reports failure",
			client: &fakeMQTT{connected: true, respond: func(cmd commandMessage) *ackMessage {
				return &ackMessage{ID: cmd.ID, Status: ackStatusError, Error: "motor stalled"}
			}},
			command: "reboot",
			wantErr: ErrDeviceError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, tt.client)
			_, err := tr.Send(context.Background(), Target{DeviceID: "dev-1", Protocol: "ble"}, tt.command, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Send() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMQTTTransport_SendTimeout(t *testing.T) {
	client := &fakeMQTT{connected: true}
	tr := newTestTransport(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, Target{DeviceID: "dev-1", Protocol: "ble", CommandID: "late"}, "reboot", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send() error = %v, want ErrTimeout", err)
	}

	// A late ack for the timed-out command is dropped without error.
	if err := tr.HandleAck("devsync/ack/ble/dev-1", []byte(`{"id":"late","status":"ok"}`)); err != nil {
		t.Errorf("HandleAck() late ack error = %v", err)
	}
}

func TestMQTTTransport_HandleAckMalformed(t *testing.T) {
	tr := NewMQTTTransport(&fakeMQTT{}, 1)

	if err := tr.HandleAck("devsync/ack/ble/dev-1", []byte(`not json`)); err == nil {
		t.Error("HandleAck() expected error for malformed payload")
	}
	if err := tr.HandleAck("devsync/ack/ble/dev-1", []byte(`{"status":"ok"}`)); err == nil {
		t.Error("HandleAck() expected error for missing id")
	}
}

func TestMQTTTransport_Reachable(t *testing.T) {
	client := &fakeMQTT{connected: true}
	tr := NewMQTTTransport(client, 1)

	if !tr.Reachable(Target{Online: true}) {
		t.Error("online device on connected broker should be reachable")
	}
	if tr.Reachable(Target{Online: false}) {
		t.Error("offline device should not be reachable")
	}
	client.connected = false
	if tr.Reachable(Target{Online: true}) {
		t.Error("device should not be reachable while broker is down")
	}
}
