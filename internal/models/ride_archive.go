package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RideArchive is the consolidated snapshot written when a ride is retired
// after settlement. Keyed by the live ride's id so repeated archival of the
// same ride collapses into one row.
type RideArchive struct {
	gorm.Model
	RideID     uint           `json:"rideId" gorm:"uniqueIndex;not null"`
	BookingID  string         `json:"bookingId"`
	Reason     string         `json:"reason"`
	Snapshot   datatypes.JSON `json:"snapshot"`
	ArchivedAt int64          `json:"archivedAt"`
}
