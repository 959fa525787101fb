package remote

import (
	"context"
	"time"

	"github.com/nerrad567/devsync-core/internal/device"
	"github.com/nerrad567/devsync-core/internal/settings"
	"github.com/nerrad567/devsync-core/internal/telemetry"
)

// Service is the backend the sync engine reconciles against.
type Service interface {
	FetchDevices(ctx context.Context, userID string) ([]device.Device, error)
	FetchConfiguration(ctx context.Context, userID string) ([]settings.Entry, error)
	UploadTelemetry(ctx context.Context, readings []telemetry.Reading) (*UploadResult, error)
	UploadConfiguration(ctx context.Context, entries []settings.Entry) (*UploadResult, error)
	SubmitCommand(ctx context.Context, cmd CommandSubmission) (*SubmitResult, error)
}

// ItemStatus is the backend's verdict on one uploaded row.
type ItemStatus string

// Item statuses.
const (
	// ItemAccepted rows are stored remotely.
	ItemAccepted ItemStatus = "accepted"
	// ItemRejected rows were refused for a transient reason and should be
	// offered again.
	ItemRejected ItemStatus = "rejected"
	// ItemMalformed rows will never be accepted.
	ItemMalformed ItemStatus = "malformed"
)

// ItemResult is the outcome for one uploaded row.
type ItemResult struct {
	ID      string     `json:"id"`
	Status  ItemStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// UploadResult lists per-row outcomes of a batch upload. Rows the backend
// did not mention are treated as rejected.
type UploadResult struct {
	Results []ItemResult `json:"results"`
}

// Accepted returns the IDs of accepted rows.
func (r *UploadResult) Accepted() []string {
	return r.ids(ItemAccepted)
}

// Malformed returns the IDs of rows the backend will never accept.
func (r *UploadResult) Malformed() []string {
	return r.ids(ItemMalformed)
}

func (r *UploadResult) ids(status ItemStatus) []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, item := range r.Results {
		if item.Status == status {
			out = append(out, item.ID)
		}
	}
	return out
}

// CommandSubmission forwards a queued command to the backend for delivery
// to a device this client cannot reach directly.
type CommandSubmission struct {
	CommandID   string         `json:"command_id"`
	DeviceID    string         `json:"device_id"`
	CommandName string         `json:"command_name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Priority    int            `json:"priority"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// SubmitResult is the backend's reply to a command submission.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	RemoteID string `json:"remote_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// deviceRecord is the wire form of a device. The per-device token is
// carried on the wire but never rendered by the local API.
type deviceRecord struct {
	device.Device
	Token string `json:"token,omitempty"`
}

type devicesResponse struct {
	Devices []deviceRecord `json:"devices"`
}

type configurationsResponse struct {
	Configurations []settings.Entry `json:"configurations"`
}

type telemetryUpload struct {
	Readings []telemetry.Reading `json:"readings"`
}

type configurationUpload struct {
	Configurations []settings.Entry `json:"configurations"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
