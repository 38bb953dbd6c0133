package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ridepool/ridepool-backend/internal/gateway"
	"github.com/ridepool/ridepool-backend/internal/models"
	"github.com/ridepool/ridepool-backend/internal/store"
	"gorm.io/datatypes"
)

// memStore is an in-memory Store with the same optimistic semantics as the
// gorm-backed one. The mutex serializes transactions.
type memStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking

	failReads  bool
	failWrites bool
}

func newMemStore(bookings ...*models.Booking) *memStore {
	m := &memStore{bookings: make(map[string]*models.Booking)}
	for _, b := range bookings {
		m.bookings[b.ID] = cloneBooking(b)
	}
	return m
}

func cloneBooking(b *models.Booking) *models.Booking {
	cp := *b
	if sys := b.Sys.Data(); sys != nil {
		copied := make(map[string]int64, len(sys))
		for k, v := range sys {
			copied[k] = v
		}
		cp.Sys = datatypes.NewJSONType(copied)
	}
	cp.Messages = datatypes.NewJSONSlice(append([]models.Message(nil), []models.Message(b.Messages)...))
	if b.SettleError != nil {
		cp.SettleError = append(datatypes.JSON(nil), b.SettleError...)
	}
	return &cp
}

func (m *memStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errors.New("store unavailable")
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBooking(b), nil
}

func (m *memStore) ReadModifyWrite(ctx context.Context, id string, fn func(*models.Booking) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads || m.failWrites {
		return errors.New("store unavailable")
	}
	b, ok := m.bookings[id]
	if !ok {
		return store.ErrNotFound
	}
	work := cloneBooking(b)
	mutate, err := fn(work)
	if err != nil {
		return err
	}
	if !mutate {
		return nil
	}
	work.Version++
	m.bookings[id] = work
	return nil
}

func (m *memStore) DueForSettlement(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errors.New("store unavailable")
	}
	var due []models.Booking
	for _, b := range m.bookings {
		if b.Status == models.BookingStatusAuthorized && b.ReportWindowEndsAt <= now.UnixMilli() {
			due = append(due, *cloneBooking(b))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ReportWindowEndsAt < due[j].ReportWindowEndsAt })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// fakeGateway answers captures from a per-authorization table and counts
// every call.
type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	results map[string]*gateway.CaptureResult
	errs    map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		results: make(map[string]*gateway.CaptureResult),
		errs:    make(map[string]error),
	}
}

func (g *fakeGateway) ok(authID string) {
	g.results[authID] = &gateway.CaptureResult{
		ID:     "cap-" + authID,
		Status: "COMPLETED",
		Raw:    []byte(`{"id":"cap-` + authID + `","status":"COMPLETED"}`),
	}
}

func (g *fakeGateway) fail(authID string, err error) {
	g.errs[authID] = err
}

func (g *fakeGateway) Capture(ctx context.Context, authorizationID string) (*gateway.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err, ok := g.errs[authorizationID]; ok {
		return nil, err
	}
	if res, ok := g.results[authorizationID]; ok {
		return res, nil
	}
	return nil, errors.New("unknown authorization " + authorizationID)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type sentNotice struct {
	UserID uint
	Notice Notice
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *fakeNotifier) Notify(ctx context.Context, userID uint, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{UserID: userID, Notice: notice})
	return nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls []string
}

func (a *fakeArchiver) ArchiveRide(ctx context.Context, b *models.Booking, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, reason)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *fakeAudit) Record(ctx context.Context, e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

// authorizedBooking is the standard fixture: authorized, window ended an
// hour before now.
func authorizedBooking(id, authID string, now time.Time) *models.Booking {
	b := &models.Booking{
		ID:                 id,
		RideID:             7,
		UserID:             1,
		CounterpartyID:     2,
		Status:             models.BookingStatusAuthorized,
		ContactUnlockedAt:  now.Add(-49 * time.Hour).UnixMilli(),
		ReportWindowEndsAt: now.Add(-time.Hour).UnixMilli(),
		CreatedAt:          now.Add(-50 * time.Hour),
	}
	if authID != "" {
		b.Payment = datatypes.NewJSONType(models.PaymentInfo{AuthorizationID: authID, Status: "AUTHORIZED"})
	}
	return b
}

func testExecutor(st Store, gw Gateway, now time.Time) (*Executor, *fakeNotifier, *fakeArchiver, *fakeAudit) {
	notifier := &fakeNotifier{}
	archiver := &fakeArchiver{}
	audit := &fakeAudit{}
	exec := &Executor{
		Store:    st,
		Gateway:  gw,
		Notifier: notifier,
		Archiver: archiver,
		Audit:    audit,
		Now:      func() time.Time { return now },
	}
	return exec, notifier, archiver, audit
}
