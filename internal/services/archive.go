package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ridepool/ridepool-backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RideArchiver consolidates a settled booking's ride into an archive row and
// deletes the live ride once it is no longer needed. Safe to call any number
// of times for the same ride.
type RideArchiver struct {
	db *gorm.DB

	// DryRun keeps the archive snapshot but skips the hard delete.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewRideArchiver(db *gorm.DB, dryRun bool) *RideArchiver {
	return &RideArchiver{db: db, DryRun: dryRun}
}

func (a *RideArchiver) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *RideArchiver) ArchiveRide(ctx context.Context, b *models.Booking, reason string) error {
	var ride models.Ride
	if err := a.db.WithContext(ctx).First(&ride, b.RideID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Ride already archived and deleted, or removed independently.
			return nil
		}
		return fmt.Errorf("failed to load ride %d: %v", b.RideID, err)
	}

	now := a.now()
	snapshot, err := json.Marshal(map[string]interface{}{
		"ride": map[string]interface{}{
			"id":          ride.ID,
			"driverId":    ride.DriverID,
			"origin":      ride.Origin,
			"destination": ride.Destination,
			"price":       ride.Price,
			"date":        ride.Date,
		},
		"booking": map[string]interface{}{
			"id":             b.ID,
			"userId":         b.UserID,
			"counterpartyId": b.CounterpartyID,
			"status":         b.Status,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build archive snapshot: %v", err)
	}

	archive := models.RideArchive{
		RideID:     ride.ID,
		BookingID:  b.ID,
		Reason:     reason,
		Snapshot:   datatypes.JSON(snapshot),
		ArchivedAt: now.UnixMilli(),
	}
	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ride_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"booking_id", "reason", "snapshot", "archived_at"}),
	}).Create(&archive).Error
	if err != nil {
		return fmt.Errorf("failed to write ride archive: %v", err)
	}

	// The live ride goes away once the trip date is past or the booking is
	// fully settled.
	if !ride.Date.Before(now) && !b.Status.Terminal() {
		return nil
	}
	if a.DryRun {
		return nil
	}
	if err := a.db.WithContext(ctx).Unscoped().Delete(&models.Ride{}, ride.ID).Error; err != nil {
		return fmt.Errorf("failed to delete ride %d: %v", ride.ID, err)
	}
	return nil
}
