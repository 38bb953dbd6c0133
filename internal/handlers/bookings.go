package handlers

import (
	"github.com/ridepool/ridepool-backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateBooking handles a passenger's request to unlock contact details for a ride
func CreateBooking(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		var input struct {
			RideID uint `json:"rideId" binding:"required"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var ride models.Ride
		if err := db.First(&ride, input.RideID).Error; err != nil {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}

		if ride.DriverID == userId {
			c.JSON(400, gin.H{"error": "Cannot book your own ride"})
			return
		}

		booking := models.Booking{
			RideID:         input.RideID,
			UserID:         userId,
			CounterpartyID: ride.DriverID,
			Status:         models.BookingStatusRequested,
		}

		if err := db.Create(&booking).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to create booking"})
			return
		}

		c.JSON(201, booking)
	}
}

// GetBookingStatus retrieves detailed booking information
func GetBookingStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("id")
		userId := c.GetUint("userId")

		var booking models.Booking
		if err := db.First(&booking, "id = ?", bookingId).Error; err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		if !booking.IsParty(userId) {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		response := gin.H{
			"id":                 booking.ID,
			"rideId":             booking.RideID,
			"status":             booking.Status,
			"reported":           booking.Reported,
			"refundRequested":    booking.RefundRequested,
			"reportWindowEndsAt": booking.ReportWindowEndsAt,
			"messages":           booking.Messages,
		}

		// Payment details only surface once the settlement owns them.
		if booking.Status == models.BookingStatusAuthorized || booking.Status.Terminal() {
			response["payment"] = gin.H{
				"status": booking.Payment.Data().Status,
			}
		}

		c.JSON(200, response)
	}
}

// GetMyBookings retrieves all bookings the caller is a party to
func GetMyBookings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var bookings []models.Booking
		if err := db.Where("user_id = ? OR counterparty_id = ?", userId, userId).
			Order("created_at DESC").
			Find(&bookings).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, bookings)
	}
}

// UpdateBookingStatus lets the counterparty approve or reject a pending booking
func UpdateBookingStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		var input struct {
			Status string `json:"status" binding:"required,oneof=approved rejected"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var booking models.Booking
		if err := db.First(&booking, "id = ?", bookingId).Error; err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		if booking.CounterpartyID != userId {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		if booking.Status != models.BookingStatusRequested {
			c.JSON(400, gin.H{"error": "Booking is no longer pending"})
			return
		}

		booking.Status = decisionStatus(input.Status, userType)
		if err := db.Save(&booking).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to update booking status"})
			return
		}

		c.JSON(200, booking)
	}
}

// CancelBooking lets either party cancel before the payment is authorized
func CancelBooking(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("id")
		userId := c.GetUint("userId")

		var booking models.Booking
		if err := db.First(&booking, "id = ?", bookingId).Error; err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		if !booking.IsParty(userId) {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		// Once authorized the settlement state machine owns the booking.
		if booking.Status == models.BookingStatusAuthorized || booking.Status.Terminal() {
			c.JSON(400, gin.H{"error": "Booking can no longer be cancelled"})
			return
		}

		booking.Status = models.BookingStatusCancelled
		if err := db.Save(&booking).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to cancel booking"})
			return
		}

		c.JSON(200, booking)
	}
}

func decisionStatus(decision, userType string) models.BookingStatus {
	if userType == string(models.UserTypeDriver) {
		if decision == "approved" {
			return models.BookingStatusApprovedByDriver
		}
		return models.BookingStatusRejectedByDriver
	}
	if decision == "approved" {
		return models.BookingStatusApprovedByPassenger
	}
	return models.BookingStatusRejectedByPassenger
}
