package handlers

import (
	"strings"
	"time"

	"github.com/ridepool/ridepool-backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateRide handles the creation of a new ride by a driver
func CreateRide(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDriver) {
			c.JSON(403, gin.H{"error": "Only drivers can create rides"})
			return
		}

		var input struct {
			Origin      string    `json:"origin" binding:"required"`
			Destination string    `json:"destination" binding:"required"`
			Seats       int       `json:"seats" binding:"required"`
			Price       float64   `json:"price" binding:"required"`
			Date        time.Time `json:"date" binding:"required"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		// Check if the scheduled time is in the future
		if input.Date.Before(time.Now()) {
			c.JSON(400, gin.H{"error": "Ride date must be in the future"})
			return
		}

		ride := models.Ride{
			DriverID:    userId,
			Origin:      input.Origin,
			Destination: input.Destination,
			Seats:       input.Seats,
			Price:       input.Price,
			Date:        input.Date,
		}

		if err := db.Create(&ride).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to create ride"})
			return
		}

		c.JSON(201, ride)
	}
}

// GetAvailableRides retrieves upcoming rides with optional search
func GetAvailableRides(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		destination := c.Query("destination")
		origin := c.Query("origin")

		var rides []models.Ride
		query := db.Preload("Driver").Where("rides.date > ?", time.Now())

		if destination != "" {
			query = query.Where("LOWER(rides.destination) LIKE LOWER(?)", "%"+strings.ToLower(destination)+"%")
		}
		if origin != "" {
			query = query.Where("LOWER(rides.origin) LIKE LOWER(?)", "%"+strings.ToLower(origin)+"%")
		}

		if err := query.Find(&rides).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch rides"})
			return
		}

		c.JSON(200, rides)
	}
}

// DeleteRide removes a ride owned by the calling driver
func DeleteRide(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideId := c.Param("id")
		userId := c.GetUint("userId")

		var ride models.Ride
		if err := db.First(&ride, rideId).Error; err != nil {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}

		if ride.DriverID != userId {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		if err := db.Delete(&ride).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to delete ride"})
			return
		}

		c.JSON(200, gin.H{"message": "Ride deleted"})
	}
}
