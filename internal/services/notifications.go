package services

import (
	"context"
	"fmt"
	"log"

	"github.com/ridepool/ridepool-backend/internal/models"
	"github.com/ridepool/ridepool-backend/internal/settlement"
	"gorm.io/gorm"
)

// Notifier appends notification records for the downstream push fan-out and
// pushes immediately over FCM when the user has a registered token.
type Notifier struct {
	db *gorm.DB
}

func NewNotifier(db *gorm.DB) *Notifier {
	return &Notifier{db: db}
}

func (n *Notifier) Notify(ctx context.Context, userID uint, notice settlement.Notice) error {
	var user models.User
	if err := n.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return fmt.Errorf("failed to load user %d: %v", userID, err)
	}

	record := models.Notification{
		UserID:    user.ID,
		UserEmail: user.Email,
		UserName:  user.Username,
		Title:     notice.Title,
		Body:      notice.Body,
		Type:      notice.Type,
		Read:      false,
	}
	if err := n.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to create notification: %v", err)
	}

	if user.FCMToken != "" {
		if err := SendPush(ctx, user.FCMToken, notice.Title, notice.Body, map[string]string{"type": notice.Type}); err != nil {
			log.Printf("Push delivery failed for user %d: %v", user.ID, err)
		}
	}

	return nil
}
