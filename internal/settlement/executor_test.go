package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ridepool/ridepool-backend/internal/gateway"
	"github.com/ridepool/ridepool-backend/internal/models"
)

func TestSettleCapturesAfterCleanWindow(t *testing.T) {
	now := time.Now()
	st := newMemStore(authorizedBooking("b1", "auth-1", now))
	gw := newFakeGateway()
	gw.ok("auth-1")
	exec, notifier, archiver, audit := testExecutor(st, gw, now)

	out := exec.Settle(context.Background(), "b1")
	if out.Result != ResultCaptured {
		t.Fatalf("outcome = %+v, want captured", out)
	}
	if gw.callCount() != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.callCount())
	}

	got, _ := st.Get(context.Background(), "b1")
	if got.Status != models.BookingStatusCaptured {
		t.Fatalf("status = %s, want captured", got.Status)
	}
	pay := got.Payment.Data()
	if pay.Status != "CAPTURED" {
		t.Fatalf("payment status = %q, want CAPTURED", pay.Status)
	}
	if len(pay.CaptureResult) == 0 {
		t.Fatal("capture result body not stored")
	}
	if n := len([]models.Message(got.Messages)); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
	if got.SysFlag(models.SysCaptureMsgSentAt) == 0 {
		t.Fatal("captureMsgSentAt flag not stamped")
	}

	if len(notifier.sent) != 1 || notifier.sent[0].UserID != got.CounterpartyID {
		t.Fatalf("notifications = %+v, want one to the counterparty", notifier.sent)
	}
	if len(archiver.calls) != 1 || archiver.calls[0] != "captured" {
		t.Fatalf("archive calls = %v", archiver.calls)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.BookingID != "b1" || entry.AuthorizationID != "auth-1" || entry.CaptureID != "cap-auth-1" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestSettleVoidsOnMissingAuthorization(t *testing.T) {
	now := time.Now()
	st := newMemStore(authorizedBooking("b1", "", now))
	gw := newFakeGateway()
	exec, _, archiver, _ := testExecutor(st, gw, now)

	out := exec.Settle(context.Background(), "b1")
	if out.Result != ResultVoided || out.Reason != ReasonMissingAuth {
		t.Fatalf("outcome = %+v, want voided/missing_authorization", out)
	}
	if gw.callCount() != 0 {
		t.Fatal("gateway must not be called without an authorization")
	}

	got, _ := st.Get(context.Background(), "b1")
	if got.Status != models.BookingStatusVoided {
		t.Fatalf("status = %s, want voided", got.Status)
	}
	if got.Payment.Data().Note != "missing authorizationId" {
		t.Fatalf("payment note = %q", got.Payment.Data().Note)
	}
	if got.SysFlag(models.SysVoidMsgSentAt) == 0 {
		t.Fatal("voidMsgSentAt flag not stamped")
	}
	if len(archiver.calls) != 1 {
		t.Fatalf("archive calls = %v", archiver.calls)
	}
}

func TestSettleDisputeTakesPrecedenceOverCapture(t *testing.T) {
	for _, tc := range []struct {
		name string
		mark func(*models.Booking)
	}{
		{"reported", func(b *models.Booking) { b.Reported = true }},
		{"refund_requested", func(b *models.Booking) { b.RefundRequested = true }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Now()
			b := authorizedBooking("b1", "auth-1", now)
			tc.mark(b)
			st := newMemStore(b)
			gw := newFakeGateway()
			gw.ok("auth-1")
			exec, notifier, _, _ := testExecutor(st, gw, now)

			out := exec.Settle(context.Background(), "b1")
			if out.Result != ResultVoided || out.Reason != ReasonDispute {
				t.Fatalf("outcome = %+v, want voided/dispute_pending", out)
			}
			if gw.callCount() != 0 {
				t.Fatal("disputed booking must never be captured")
			}

			got, _ := st.Get(context.Background(), "b1")
			if got.Status != models.BookingStatusVoided {
				t.Fatalf("status = %s, want voided", got.Status)
			}
			if got.Payment.Data().Status != "VOIDED" {
				t.Fatalf("payment status = %q, want VOIDED", got.Payment.Data().Status)
			}
			if got.SysFlag(models.SysRefundMsgSentAt) == 0 {
				t.Fatal("refundMsgSentAt flag not stamped")
			}
			if len(notifier.sent) != 1 || notifier.sent[0].Notice.Type != "settlement_refund_ack" {
				t.Fatalf("notifications = %+v", notifier.sent)
			}
		})
	}
}

func TestSettleGatewayFailureParksInError(t *testing.T) {
	now := time.Now()
	st := newMemStore(authorizedBooking("b1", "auth-1", now))
	gw := newFakeGateway()
	gw.fail("auth-1", &gateway.APIError{StatusCode: 502, Body: []byte("bad gateway")})
	exec, notifier, archiver, audit := testExecutor(st, gw, now)

	out := exec.Settle(context.Background(), "b1")
	if out.Result != ResultError || out.Reason != ReasonGatewayFailure {
		t.Fatalf("outcome = %+v, want error/gateway_failure", out)
	}

	got, _ := st.Get(context.Background(), "b1")
	if got.Status != models.BookingStatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if len(got.SettleError) == 0 || got.SettleErrorAt != now.UnixMilli() {
		t.Fatalf("settle error not recorded: %s at %d", got.SettleError, got.SettleErrorAt)
	}
	if n := len([]models.Message(got.Messages)); n != 0 {
		t.Fatalf("messages = %d, failed settlement must stay message-free", n)
	}
	if len(notifier.sent) != 0 || len(archiver.calls) != 0 || len(audit.entries) != 0 {
		t.Fatal("failed settlement must produce no side effects")
	}
}

func TestSettleTreatsDeclinedBodyAsFailure(t *testing.T) {
	now := time.Now()
	st := newMemStore(authorizedBooking("b1", "auth-1", now))
	gw := newFakeGateway()
	gw.results["auth-1"] = &gateway.CaptureResult{
		ID:     "cap-1",
		Status: "DECLINED",
		Raw:    []byte(`{"id":"cap-1","status":"DECLINED"}`),
	}
	exec, _, _, _ := testExecutor(st, gw, now)

	out := exec.Settle(context.Background(), "b1")
	if out.Result != ResultError || out.Reason != ReasonGatewayFailure {
		t.Fatalf("outcome = %+v, want error/gateway_failure", out)
	}
	got, _ := st.Get(context.Background(), "b1")
	if got.Status != models.BookingStatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
}

func TestSettleSkipsNonAuthorized(t *testing.T) {
	now := time.Now()
	b := authorizedBooking("b1", "auth-1", now)
	b.Status = models.BookingStatusCaptured
	st := newMemStore(b)
	gw := newFakeGateway()
	exec, _, _, _ := testExecutor(st, gw, now)

	out := exec.Settle(context.Background(), "b1")
	if out.Result != ResultSkipped || out.Reason != SkipNotAuthorized {
		t.Fatalf("outcome = %+v, want skipped/not_authorized", out)
	}
	if gw.callCount() != 0 {
		t.Fatal("settled booking must not reach the gateway")
	}
}

func TestSettleMissingBooking(t *testing.T) {
	exec, _, _, _ := testExecutor(newMemStore(), newFakeGateway(), time.Now())
	out := exec.Settle(context.Background(), "gone")
	if out.Result != ResultSkipped || out.Reason != SkipNotFound {
		t.Fatalf("outcome = %+v, want skipped/not_found", out)
	}
}

func TestSettleDryRunSkipsGateway(t *testing.T) {
	now := time.Now()
	st := newMemStore(authorizedBooking("b1", "auth-1", now))
	gw := newFakeGateway()
	exec, _, _, audit := testExecutor(st, gw, now)
	exec.DryRun = true

	out := exec.Settle(context.Background(), "b1")
	if out.Result != ResultCaptured {
		t.Fatalf("outcome = %+v, want captured", out)
	}
	if gw.callCount() != 0 {
		t.Fatal("dry run must not call the gateway")
	}

	got, _ := st.Get(context.Background(), "b1")
	if got.Status != models.BookingStatusCaptured {
		t.Fatalf("status = %s, want captured", got.Status)
	}
	if string(got.Payment.Data().CaptureResult) != `{"simulated":true}` {
		t.Fatalf("capture result = %s, want simulated marker", got.Payment.Data().CaptureResult)
	}
	if len(audit.entries) != 1 || !audit.entries[0].DryRun {
		t.Fatalf("audit entries = %+v, want one dry-run entry", audit.entries)
	}
}

func TestSettleIsAtMostOnceUnderContention(t *testing.T) {
	now := time.Now()
	st := newMemStore(authorizedBooking("b1", "auth-1", now))
	gw := newFakeGateway()
	gw.ok("auth-1")
	exec, notifier, _, _ := testExecutor(st, gw, now)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if AcquireLock(context.Background(), st, "b1", now) {
				exec.Settle(context.Background(), "b1")
			}
		}()
	}
	wg.Wait()

	if gw.callCount() != 1 {
		t.Fatalf("gateway calls = %d, want exactly 1", gw.callCount())
	}
	got, _ := st.Get(context.Background(), "b1")
	if got.Status != models.BookingStatusCaptured {
		t.Fatalf("status = %s, want captured", got.Status)
	}
	if n := len([]models.Message(got.Messages)); n != 1 {
		t.Fatalf("messages = %d, want exactly 1", n)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want exactly 1", len(notifier.sent))
	}
}

func TestSettleRerunAfterSuccessIsInert(t *testing.T) {
	now := time.Now()
	st := newMemStore(authorizedBooking("b1", "auth-1", now))
	gw := newFakeGateway()
	gw.ok("auth-1")
	exec, notifier, _, _ := testExecutor(st, gw, now)

	if out := exec.Settle(context.Background(), "b1"); out.Result != ResultCaptured {
		t.Fatalf("first run = %+v", out)
	}
	later := now.Add(LockTTL + time.Minute)
	exec.Now = func() time.Time { return later }

	out := exec.Settle(context.Background(), "b1")
	if out.Result != ResultSkipped || out.Reason != SkipNotAuthorized {
		t.Fatalf("rerun = %+v, want skipped/not_authorized", out)
	}
	if gw.callCount() != 1 {
		t.Fatalf("gateway calls = %d after rerun, want 1", gw.callCount())
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %d after rerun, want 1", len(notifier.sent))
	}
}

func TestSettleStoreFailure(t *testing.T) {
	now := time.Now()
	st := newMemStore(authorizedBooking("b1", "auth-1", now))
	st.failReads = true
	exec, _, _, _ := testExecutor(st, newFakeGateway(), now)

	out := exec.Settle(context.Background(), "b1")
	if out.Result != ResultError {
		t.Fatalf("outcome = %+v, want error on store failure", out)
	}
}
