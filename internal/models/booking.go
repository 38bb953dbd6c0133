package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusRequested           BookingStatus = "requested"
	BookingStatusApprovedByDriver    BookingStatus = "approved_by_driver"
	BookingStatusApprovedByPassenger BookingStatus = "approved_by_passenger"
	BookingStatusRejectedByDriver    BookingStatus = "rejected_by_driver"
	BookingStatusRejectedByPassenger BookingStatus = "rejected_by_passenger"
	BookingStatusAuthorized          BookingStatus = "authorized"
	BookingStatusCaptured            BookingStatus = "captured"
	BookingStatusVoided              BookingStatus = "voided"
	BookingStatusError               BookingStatus = "error"
	BookingStatusCancelled           BookingStatus = "cancelled"
)

// Terminal reports whether the settlement state machine is done with this
// status. Terminal bookings are never picked up by the sweep again.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusCaptured, BookingStatusVoided, BookingStatusError:
		return true
	}
	return false
}

// ReportWindow is how long the paying party has to report a problem before
// the pre-authorized payment is captured automatically.
const ReportWindow = 48 * time.Hour

// MaxMessages caps the conversation stored on a booking to the most recent
// entries.
const MaxMessages = 300

// Sys ledger flag names. The ledger is owned exclusively by the backend
// executors and never exposed to end users.
const (
	SysSettlementLockAt = "settlementLockAt"
	SysCaptureMsgSentAt = "captureMsgSentAt"
	SysVoidMsgSentAt    = "voidMsgSentAt"
	SysRefundMsgSentAt  = "refundMsgSentAt"
)

// PaymentInfo is the payment-authorization slice of a booking. Once a
// booking reaches "authorized" this record is owned by the settlement
// executor alone.
type PaymentInfo struct {
	AuthorizationID string          `json:"authorizationId,omitempty"`
	Status          string          `json:"status,omitempty"`
	Note            string          `json:"note,omitempty"`
	CaptureResult   json.RawMessage `json:"captureResult,omitempty"`
}

// Message is one chat or system entry on a booking.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"`
}

// SystemMessage builds a backend-authored message stamped at now.
func SystemMessage(kind, body string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      "system",
		Kind:      kind,
		Body:      body,
		CreatedAt: now.UnixMilli(),
	}
}

// Booking is one request to unlock contact details between the two parties
// of a ride. Timestamps are epoch milliseconds; zero means unset.
type Booking struct {
	ID             string        `json:"id" gorm:"primaryKey"`
	RideID         uint          `json:"rideId" gorm:"index"`
	UserID         uint          `json:"userId" gorm:"not null"`
	CounterpartyID uint          `json:"counterpartyId" gorm:"not null"`
	Status         BookingStatus `json:"status" gorm:"not null;default:'requested';index:idx_bookings_due,priority:1"`

	// Version backs the store's optimistic read-modify-write.
	Version int64 `json:"-" gorm:"not null;default:0"`

	Payment  datatypes.JSONType[PaymentInfo]      `json:"payment"`
	Sys      datatypes.JSONType[map[string]int64] `json:"-"`
	Messages datatypes.JSONSlice[Message]         `json:"messages"`

	SettleError   datatypes.JSON `json:"-"`
	SettleErrorAt int64          `json:"-"`

	ContactUnlockedAt  int64 `json:"contactUnlockedAt"`
	PaidAt             int64 `json:"paidAt"`
	ReportWindowEndsAt int64 `json:"reportWindowEndsAt" gorm:"index:idx_bookings_due,priority:2"`
	Reported           bool  `json:"reported"`
	RefundRequested    bool  `json:"refundRequested"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// IsParty reports whether the user is one of the two sides of the booking.
func (b *Booking) IsParty(userID uint) bool {
	return userID == b.UserID || userID == b.CounterpartyID
}

// WindowOpenedAt is the instant the report window opened: the first set
// value of contactUnlockedAt, paidAt and createdAt, in that order.
func (b *Booking) WindowOpenedAt() int64 {
	if b.ContactUnlockedAt != 0 {
		return b.ContactUnlockedAt
	}
	if b.PaidAt != 0 {
		return b.PaidAt
	}
	return b.CreatedAt.UnixMilli()
}

// ReportWindowDeadline returns the persisted deadline. The derived fallback
// only applies to legacy rows written before the deadline was stamped at
// authorization time; callers that use it must persist the value they saw.
func (b *Booking) ReportWindowDeadline() int64 {
	if b.ReportWindowEndsAt != 0 {
		return b.ReportWindowEndsAt
	}
	return b.WindowOpenedAt() + ReportWindow.Milliseconds()
}

// SysFlag reads one ledger flag, zero when never set.
func (b *Booking) SysFlag(flag string) int64 {
	return b.Sys.Data()[flag]
}

// SetSysFlag writes one ledger flag.
func (b *Booking) SetSysFlag(flag string, ts int64) {
	sys := b.Sys.Data()
	if sys == nil {
		sys = make(map[string]int64)
	}
	sys[flag] = ts
	b.Sys = datatypes.NewJSONType(sys)
}

// ClearSysFlag removes one ledger flag.
func (b *Booking) ClearSysFlag(flag string) {
	sys := b.Sys.Data()
	if sys == nil {
		return
	}
	delete(sys, flag)
	b.Sys = datatypes.NewJSONType(sys)
}

// AppendMessage adds a message, dropping the oldest entries beyond the cap.
func (b *Booking) AppendMessage(m Message) {
	msgs := append([]Message(b.Messages), m)
	if len(msgs) > MaxMessages {
		msgs = msgs[len(msgs)-MaxMessages:]
	}
	b.Messages = datatypes.NewJSONSlice(msgs)
}
