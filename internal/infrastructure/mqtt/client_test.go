package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/devsync-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "devsync-test",
			TLS:      false,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// fakeMessage implements paho's Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// mockLogger records messages by level.
type mockLogger struct {
	infos  []string
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// =============================================================================
// Input Validation Tests (no broker required)
// =============================================================================

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "devsync/test", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "devsync/test", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "devsync/test", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("devsync/ack/+/+", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("devsync/ack/+/+", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("devsync/ack/+/+", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if got := client.Subscriptions(); len(got) != 0 {
		t.Errorf("Subscriptions() = %v, want none", got)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestPublishEvent_Disconnected(t *testing.T) {
	client := &Client{}
	err := client.PublishEvent("sync_finished", map[string]any{"ok": true})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishEvent() error = %v, want ErrNotConnected", err)
	}

	err = client.PublishEvent("sync_finished", make(chan int))
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishEvent(unencodable) error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscriptions_Sorted(t *testing.T) {
	client := &Client{subscriptions: map[string]subscription{
		"devsync/telemetry/+/+": {qos: 1},
		"devsync/ack/+/+":       {qos: 1},
		"devsync/status/+/+":    {qos: 0},
	}}

	got := client.Subscriptions()
	want := []string{"devsync/ack/+/+", "devsync/status/+/+", "devsync/telemetry/+/+"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Subscriptions() = %v, want %v", got, want)
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

func TestWrapHandler_RecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	client := &Client{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, fakeMessage{topic: "devsync/ack/ble/dev-1"})

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one panic record", logger.errors)
	}
}

func TestWrapHandler_LogsReturnedError(t *testing.T) {
	logger := &mockLogger{}
	client := &Client{}
	client.SetLogger(logger)

	var gotTopic, gotPayload string
	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return errors.New("bad payload")
	})
	wrapped(nil, fakeMessage{topic: "devsync/telemetry/wifi/dev-2", payload: []byte(`{}`)})

	if gotTopic != "devsync/telemetry/wifi/dev-2" || gotPayload != "{}" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %v, want one", logger.warns)
	}
}

func TestSetLogger(t *testing.T) {
	client := &Client{}
	client.SetLogger(&mockLogger{})
	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}
	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gateway"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "devsync-test" {
		t.Errorf("ClientID = %q, want devsync-test", opts.ClientID)
	}
	if opts.Username != "gateway" {
		t.Errorf("Username = %q, want gateway", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if opts.WillTopic != "devsync/system/status" || !opts.WillRetained {
		t.Errorf("will = (%q, retained %v), want retained devsync/system/status", opts.WillTopic, opts.WillRetained)
	}
	var will presence
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if will.Status != presenceOffline || will.Reason != reasonConnection || will.ClientID != "devsync-test" {
		t.Errorf("will = %+v", will)
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("TLS scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig should be set when TLS is enabled")
	}
}

func TestPresencePayload(t *testing.T) {
	online := string(presencePayload(presenceOnline, "node-1", ""))
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"node-1"`) {
		t.Errorf("online payload = %s", online)
	}
	if strings.Contains(online, "reason") {
		t.Errorf("online payload should omit reason: %s", online)
	}
	offline := string(presencePayload(presenceOffline, "node-1", reasonShutdown))
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"DeviceCommand", topics.DeviceCommand("ble", "dev-42"), "devsync/command/ble/dev-42"},
		{"DeviceAck", topics.DeviceAck("ble", "dev-42"), "devsync/ack/ble/dev-42"},
		{"DeviceTelemetry", topics.DeviceTelemetry("wifi", "dev-7"), "devsync/telemetry/wifi/dev-7"},
		{"DeviceStatus", topics.DeviceStatus("usb", "dev-3"), "devsync/status/usb/dev-3"},
		{"CoreEvent", topics.CoreEvent("sync_completed"), "devsync/core/event/sync_completed"},
		{"SystemStatus", topics.SystemStatus(), "devsync/system/status"},
		{"AllDeviceAcks", topics.AllDeviceAcks(), "devsync/ack/+/+"},
		{"AllDeviceTelemetry", topics.AllDeviceTelemetry(), "devsync/telemetry/+/+"},
		{"AllDeviceStatus", topics.AllDeviceStatus(), "devsync/status/+/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		topic                       string
		category, protocol, device string
		ok                          bool
	}{
		{"devsync/ack/ble/dev-42", "ack", "ble", "dev-42", true},
		{"devsync/telemetry/wifi/dev-7", "telemetry", "wifi", "dev-7", true},
		{"devsync/ack/ble", "", "", "", false},
		{"devsync/ack/ble/dev/extra", "", "", "", false},
		{"other/ack/ble/dev-1", "", "", "", false},
		{"devsync//ble/dev-1", "", "", "", false},
		{"", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			c, p, d, ok := ParseDeviceTopic(tt.topic)
			if ok != tt.ok || c != tt.category || p != tt.protocol || d != tt.device {
				t.Errorf("ParseDeviceTopic(%q) = (%q, %q, %q, %v), want (%q, %q, %q, %v)",
					tt.topic, c, p, d, ok, tt.category, tt.protocol, tt.device, tt.ok)
			}
		})
	}
}
