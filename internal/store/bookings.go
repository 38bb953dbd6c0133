package store

import (
	"context"
	"errors"
	"time"

	"github.com/ridepool/ridepool-backend/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means the booking does not exist (it may have been removed
	// by the retention job while a settlement was in flight).
	ErrNotFound = errors.New("booking not found")
	// ErrConflict means another writer kept winning the optimistic update.
	ErrConflict = errors.New("concurrent booking modification")
)

// rmwAttempts bounds the optimistic retry loop.
const rmwAttempts = 5

// BookingStore is the persistence layer for bookings. All settlement
// mutations go through ReadModifyWrite; plain reads and range queries are
// available for the triggers.
type BookingStore struct {
	db *gorm.DB
}

func NewBookingStore(db *gorm.DB) *BookingStore {
	return &BookingStore{db: db}
}

func (s *BookingStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// ReadModifyWrite loads the booking, applies fn, and writes the result back
// only if no other writer modified the row in between, retrying on conflict.
// fn returning false commits nothing. Preconditions belong inside fn, not
// before the call, so they are evaluated against the row that is written.
func (s *BookingStore) ReadModifyWrite(ctx context.Context, id string, fn func(*models.Booking) (bool, error)) error {
	for attempt := 0; attempt < rmwAttempts; attempt++ {
		b, err := s.Get(ctx, id)
		if err != nil {
			return err
		}

		version := b.Version
		mutate, err := fn(b)
		if err != nil {
			return err
		}
		if !mutate {
			return nil
		}

		b.Version = version + 1
		res := s.db.WithContext(ctx).
			Model(&models.Booking{}).
			Where("id = ? AND version = ?", id, version).
			Select("*").
			Omit("id", "created_at").
			Updates(b)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		// Lost the race; reload and try again.
	}
	return ErrConflict
}

// DueForSettlement returns up to limit authorized bookings whose report
// window deadline has passed, oldest deadline first. Rows with a zero
// deadline predate deadline stamping and are included so the sweep can
// backfill them.
func (s *BookingStore) DueForSettlement(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND report_window_ends_at <= ?", models.BookingStatusAuthorized, now.UnixMilli()).
		Order("report_window_ends_at").
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	return bookings, nil
}
