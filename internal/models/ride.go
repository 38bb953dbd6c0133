package models

import (
	"time"

	"gorm.io/gorm"
)

type Ride struct {
	gorm.Model
	DriverID    uint      `json:"driverId" gorm:"not null"`
	Driver      User      `json:"driver"`
	Origin      string    `json:"origin" gorm:"not null"`
	Destination string    `json:"destination" gorm:"not null"`
	Seats       int       `json:"seats" gorm:"not null;default:1"`
	Price       float64   `json:"price" gorm:"not null"`
	Date        time.Time `json:"date" gorm:"not null"`
}
