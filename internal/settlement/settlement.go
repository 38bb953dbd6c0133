package settlement

import (
	"context"
	"time"

	"github.com/ridepool/ridepool-backend/internal/gateway"
	"github.com/ridepool/ridepool-backend/internal/models"
)

// Store is the slice of the booking store the settlement core needs. The
// gorm-backed implementation lives in internal/store; tests substitute an
// in-memory one.
type Store interface {
	Get(ctx context.Context, id string) (*models.Booking, error)
	ReadModifyWrite(ctx context.Context, id string, fn func(*models.Booking) (bool, error)) error
	DueForSettlement(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
}

// Gateway captures a pre-authorized payment.
type Gateway interface {
	Capture(ctx context.Context, authorizationID string) (*gateway.CaptureResult, error)
}

// Notice is one user-facing notification produced by a settlement.
type Notice struct {
	Title string
	Body  string
	Type  string
}

// Notifier appends a notification record for the downstream fan-out.
type Notifier interface {
	Notify(ctx context.Context, userID uint, n Notice) error
}

// Archiver consolidates and conditionally deletes the ride behind a settled
// booking. Must be idempotent.
type Archiver interface {
	ArchiveRide(ctx context.Context, b *models.Booking, reason string) error
}

// AuditEntry is the compact record written for every successful capture.
type AuditEntry struct {
	BookingID       string `json:"bookingId"`
	RideID          uint   `json:"rideId"`
	AuthorizationID string `json:"authorizationId"`
	CaptureID       string `json:"captureId"`
	CaptureStatus   string `json:"captureStatus"`
	DryRun          bool   `json:"dryRun,omitempty"`
	SettledAt       int64  `json:"settledAt"`
}

// AuditLog persists settlement audit entries.
type AuditLog interface {
	Record(ctx context.Context, e AuditEntry) error
}

// EventSink receives settlement events for connected clients. The sweeper
// process runs without one.
type EventSink interface {
	SettlementEvent(userID uint, event string, b *models.Booking)
}

// Result of one executor run.
type Result string

const (
	ResultCaptured Result = "captured"
	ResultVoided   Result = "voided"
	ResultError    Result = "error"
	ResultSkipped  Result = "skipped"
)

// Skip and void reasons surfaced in structured responses and counters.
const (
	SkipNotAuthorized  = "not_authorized"
	SkipWindowNotEnded = "window_not_ended"
	SkipLocked         = "locked"
	SkipNotFound       = "not_found"

	ReasonMissingAuth    = "missing_authorization"
	ReasonDispute        = "dispute_pending"
	ReasonGatewayFailure = "gateway_failure"
)

// Outcome is the structured result of a settlement attempt.
type Outcome struct {
	Result Result
	Reason string
}
