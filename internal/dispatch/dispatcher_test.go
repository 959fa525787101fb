package dispatch

import (
	"context"
	"errors"
	"testing"
)

// stubTransport answers every Send with a fixed outcome.
type stubTransport struct {
	reachable bool
	err       error
	calls     int
}

func (s *stubTransport) Send(_ context.Context, target Target, _ string, _ map[string]any) (Ack, error) {
	s.calls++
	if s.err != nil {
		return Ack{}, s.err
	}
	return Ack{CommandID: target.CommandID}, nil
}

func (s *stubTransport) Reachable(Target) bool { return s.reachable }

func TestRouter_Send(t *testing.T) {
	ble := &stubTransport{reachable: true}
	router := NewRouter()
	router.Register("ble", ble)

	ack, err := router.Send(context.Background(), Target{Protocol: "ble", CommandID: "c1"}, "reboot", nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ack.CommandID != "c1" || ble.calls != 1 {
		t.Errorf("Send() ack = %+v, calls = %d", ack, ble.calls)
	}

	_, err = router.Send(context.Background(), Target{Protocol: "usb"}, "reboot", nil)
	if !errors.Is(err, ErrNoTransport) {
		t.Errorf("Send() unknown protocol error = %v, want ErrNoTransport", err)
	}
}

func TestRouter_Reachable(t *testing.T) {
	router := NewRouter()
	router.Register("ble", &stubTransport{reachable: true})
	router.Register("wifi", &stubTransport{reachable: false})

	if !router.Reachable(Target{Protocol: "ble"}) {
		t.Error("ble target should be reachable")
	}
	if router.Reachable(Target{Protocol: "wifi"}) {
		t.Error("wifi target should not be reachable")
	}
	if router.Reachable(Target{Protocol: "usb"}) {
		t.Error("target without transport should not be reachable")
	}
	if len(router.Protocols()) != 2 {
		t.Errorf("Protocols() = %v, want 2 entries", router.Protocols())
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(ErrInvalidCommand) {
		t.Error("ErrInvalidCommand should be permanent")
	}
	for _, err := range []error{ErrTimeout, ErrUnreachable, ErrNoTransport, ErrDeviceError} {
		if IsPermanent(err) {
			t.Errorf("%v should be transient", err)
		}
	}
}
