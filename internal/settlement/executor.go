package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ridepool/ridepool-backend/internal/gateway"
	"github.com/ridepool/ridepool-backend/internal/models"
	"github.com/ridepool/ridepool-backend/internal/store"
	"gorm.io/datatypes"
)

// Executor resolves one authorized booking into captured, voided or error.
// It must only run after AcquireLock succeeded for the booking. All of its
// dependencies are injected so tests can run with a fake clock, store and
// gateway; Notifier, Archiver, Audit and Events may be nil.
type Executor struct {
	Store    Store
	Gateway  Gateway
	Notifier Notifier
	Archiver Archiver
	Audit    AuditLog
	Events   EventSink

	// Now defaults to time.Now.
	Now func() time.Time

	// DryRun suppresses the gateway call and ride hard-deletion, substituting
	// a simulated capture result. State transitions and message idempotence
	// still run for real.
	DryRun bool
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Settle evaluates the transition rules in order: missing authorization
// voids, a pending dispute voids, otherwise the payment is captured. The
// terminal write re-checks the status inside its transaction, so a racing
// run that slipped past an expired lock still settles at most once.
func (e *Executor) Settle(ctx context.Context, bookingID string) Outcome {
	b, err := e.Store.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{Result: ResultSkipped, Reason: SkipNotFound}
		}
		log.Printf("settlement: load failed for booking %s: %v", bookingID, err)
		return Outcome{Result: ResultError, Reason: "store_failure"}
	}
	if b.Status != models.BookingStatusAuthorized {
		return Outcome{Result: ResultSkipped, Reason: SkipNotAuthorized}
	}

	switch {
	case b.Payment.Data().AuthorizationID == "":
		return e.void(ctx, b, ReasonMissingAuth)
	case b.Reported || b.RefundRequested:
		return e.void(ctx, b, ReasonDispute)
	default:
		return e.capture(ctx, b)
	}
}

func (e *Executor) void(ctx context.Context, b *models.Booking, reason string) Outcome {
	now := e.now()
	transitioned := false
	err := e.Store.ReadModifyWrite(ctx, b.ID, func(cur *models.Booking) (bool, error) {
		transitioned = false
		if cur.Status != models.BookingStatusAuthorized {
			return false, nil
		}
		cur.Status = models.BookingStatusVoided
		pay := cur.Payment.Data()
		if reason == ReasonMissingAuth {
			pay.Note = "missing authorizationId"
		} else {
			pay.Status = "VOIDED"
		}
		cur.Payment = datatypes.NewJSONType(pay)
		transitioned = true
		return true, nil
	})
	if err != nil {
		log.Printf("settlement: void transition failed for booking %s: %v", b.ID, err)
		return Outcome{Result: ResultError, Reason: "store_failure"}
	}
	if !transitioned {
		return Outcome{Result: ResultSkipped, Reason: SkipNotAuthorized}
	}
	b.Status = models.BookingStatusVoided

	flag := models.SysVoidMsgSentAt
	kind := "settlement_voided"
	body := "The reservation was released and no charge was made."
	notice := Notice{
		Title: "Reservation released",
		Body:  "The contact unlock was released without a charge.",
		Type:  kind,
	}
	if reason == ReasonDispute {
		flag = models.SysRefundMsgSentAt
		kind = "settlement_refund_ack"
		body = "The payment is paused while the report is reviewed; the contact unlock has been released."
		notice = Notice{
			Title: "Payment paused",
			Body:  "A report was filed, so the payment is on hold and the contact unlock was released.",
			Type:  kind,
		}
	}

	e.sendMessage(ctx, b, models.SystemMessage(kind, body, now), flag, notice)
	e.archive(ctx, b, reason)
	e.broadcast(b, kind)

	return Outcome{Result: ResultVoided, Reason: reason}
}

func (e *Executor) capture(ctx context.Context, b *models.Booking) Outcome {
	now := e.now()
	authID := b.Payment.Data().AuthorizationID

	var res *gateway.CaptureResult
	var err error
	if e.DryRun {
		res = &gateway.CaptureResult{
			ID:     "dry-run",
			Status: "COMPLETED",
			Raw:    json.RawMessage(`{"simulated":true}`),
		}
	} else {
		res, err = e.Gateway.Capture(ctx, authID)
	}
	if err == nil && res != nil && !captureSucceeded(res.Status) {
		// Processor can answer 2xx with a failed capture body.
		err = fmt.Errorf("capture returned status %q", res.Status)
	}
	if err != nil {
		e.recordFailure(ctx, b.ID, err, now)
		return Outcome{Result: ResultError, Reason: ReasonGatewayFailure}
	}

	transitioned := false
	rmwErr := e.Store.ReadModifyWrite(ctx, b.ID, func(cur *models.Booking) (bool, error) {
		transitioned = false
		if cur.Status != models.BookingStatusAuthorized {
			return false, nil
		}
		cur.Status = models.BookingStatusCaptured
		pay := cur.Payment.Data()
		pay.Status = "CAPTURED"
		pay.CaptureResult = res.Raw
		cur.Payment = datatypes.NewJSONType(pay)
		transitioned = true
		return true, nil
	})
	if rmwErr != nil {
		// The money moved but the status write failed; the lock TTL will let
		// a later run observe the still-authorized row. Surface loudly.
		log.Printf("settlement: capture transition failed for booking %s after gateway success: %v", b.ID, rmwErr)
		return Outcome{Result: ResultError, Reason: "store_failure"}
	}
	if !transitioned {
		return Outcome{Result: ResultSkipped, Reason: SkipNotAuthorized}
	}
	b.Status = models.BookingStatusCaptured

	msg := models.SystemMessage("settlement_captured", "Payment confirmed. Contact details stay unlocked — enjoy the ride!", now)
	notice := Notice{
		Title: "Payment confirmed",
		Body:  "The payment for the contact unlock was completed.",
		Type:  "settlement_captured",
	}
	e.sendMessage(ctx, b, msg, models.SysCaptureMsgSentAt, notice)
	e.archive(ctx, b, "captured")
	e.audit(ctx, AuditEntry{
		BookingID:       b.ID,
		RideID:          b.RideID,
		AuthorizationID: authID,
		CaptureID:       res.ID,
		CaptureStatus:   res.Status,
		DryRun:          e.DryRun,
		SettledAt:       now.UnixMilli(),
	})
	e.broadcast(b, "settlement_captured")

	return Outcome{Result: ResultCaptured}
}

// recordFailure parks the booking in the error state. Error bookings are no
// longer authorized, so the sweep never retries them; a human has to look at
// the stored payload and decide.
func (e *Executor) recordFailure(ctx context.Context, bookingID string, cause error, now time.Time) {
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	err := e.Store.ReadModifyWrite(ctx, bookingID, func(cur *models.Booking) (bool, error) {
		if cur.Status != models.BookingStatusAuthorized {
			return false, nil
		}
		cur.Status = models.BookingStatusError
		cur.SettleError = datatypes.JSON(payload)
		cur.SettleErrorAt = now.UnixMilli()
		return true, nil
	})
	if err != nil {
		log.Printf("settlement: failed to record gateway failure for booking %s: %v", bookingID, err)
	}
	log.Printf("settlement: capture failed for booking %s: %v", bookingID, cause)
}

// sendMessage appends the system message once and, only when this run was
// the one that appended it, writes the counterparty notification. Both are
// best-effort: a cosmetic failure never fails the settlement.
func (e *Executor) sendMessage(ctx context.Context, b *models.Booking, msg models.Message, flag string, notice Notice) {
	appended, err := AppendSystemMessageOnce(ctx, e.Store, b.ID, msg, flag)
	if err != nil {
		log.Printf("settlement: system message append failed for booking %s: %v", b.ID, err)
		return
	}
	if !appended || e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, b.CounterpartyID, notice); err != nil {
		log.Printf("settlement: notification failed for booking %s: %v", b.ID, err)
	}
}

func (e *Executor) archive(ctx context.Context, b *models.Booking, reason string) {
	if e.Archiver == nil {
		return
	}
	if err := e.Archiver.ArchiveRide(ctx, b, reason); err != nil {
		log.Printf("settlement: ride archival failed for booking %s: %v", b.ID, err)
	}
}

func (e *Executor) audit(ctx context.Context, entry AuditEntry) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.Record(ctx, entry); err != nil {
		log.Printf("settlement: audit write failed for booking %s: %v", entry.BookingID, err)
	}
}

func (e *Executor) broadcast(b *models.Booking, event string) {
	if e.Events == nil {
		return
	}
	e.Events.SettlementEvent(b.UserID, event, b)
	e.Events.SettlementEvent(b.CounterpartyID, event, b)
}

func captureSucceeded(status string) bool {
	switch strings.ToUpper(status) {
	case "DECLINED", "FAILED", "DENIED":
		return false
	}
	return true
}
