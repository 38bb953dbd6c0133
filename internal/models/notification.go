package models

import (
	"gorm.io/gorm"
)

// Notification is one record for the downstream push fan-out. The fan-out
// consumer marks entries read; this backend only appends.
type Notification struct {
	gorm.Model
	UserID    uint   `json:"userId" gorm:"index"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName"`
	Title     string `json:"title" gorm:"not null"`
	Body      string `json:"body" gorm:"not null"`
	Type      string `json:"type" gorm:"not null"`
	Read      bool   `json:"read" gorm:"not null;default:false"`
}
