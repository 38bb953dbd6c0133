package main

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/ridepool/ridepool-backend/internal/config"
	"github.com/ridepool/ridepool-backend/internal/database"
	"github.com/ridepool/ridepool-backend/internal/gateway"
	"github.com/ridepool/ridepool-backend/internal/handlers"
	"github.com/ridepool/ridepool-backend/internal/middleware"
	"github.com/ridepool/ridepool-backend/internal/services"
	"github.com/ridepool/ridepool-backend/internal/settlement"
	"github.com/ridepool/ridepool-backend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Fatal("Error loading .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database with better error handling
	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Get underlying SQL DB instance
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Initialize Redis
	if err := services.InitRedis(); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}

	// Initialize Firebase (optional - will log warning if not configured)
	if err := services.InitFirebase(); err != nil {
		log.Printf("Firebase initialization warning: %v", err)
	}

	// Initialize settlement audit storage (S3 or local fallback)
	audit, err := services.NewSettlementAuditLog(cfg.AuditBucket, cfg.AuditDir)
	if err != nil {
		log.Fatalf("Failed to initialize audit storage: %v", err)
	}

	// Initialize WebSocket hub
	hub := services.NewHub()
	go hub.Run()

	// Wire the settlement core
	bookings := store.NewBookingStore(db)
	executor := &settlement.Executor{
		Store:    bookings,
		Gateway:  gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.ClientID, cfg.Gateway.ClientSecret),
		Notifier: services.NewNotifier(db),
		Archiver: services.NewRideArchiver(db, cfg.DryRun),
		Audit:    audit,
		Events:   hub,
		DryRun:   cfg.DryRun,
	}
	if cfg.DryRun {
		log.Println("Settlement dry-run enabled: gateway calls and ride deletion are simulated")
	}

	// Initialize router
	r := gin.Default()

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsConfig))

	// Routes
	api := r.Group("/api")
	{
		// WebSocket connection
		api.GET("/ws", middleware.AuthMiddleware(), handlers.WebSocketHandler(hub))

		// Settle resolves its own auth so the token may ride in the body.
		api.POST("/bookings/settle", handlers.SettleBooking(bookings, executor))

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			// Rides routes
			rides := protected.Group("/rides")
			{
				rides.GET("", handlers.GetAvailableRides(db))
				rides.POST("", handlers.CreateRide(db))
				rides.DELETE("/:id", handlers.DeleteRide(db))
			}

			// Bookings routes
			bookingRoutes := protected.Group("/bookings")
			{
				bookingRoutes.POST("", handlers.CreateBooking(db))
				bookingRoutes.GET("/mine", handlers.GetMyBookings(db))
				bookingRoutes.GET("/:id/status", handlers.GetBookingStatus(db))
				bookingRoutes.PATCH("/:id/status", handlers.UpdateBookingStatus(db))
				bookingRoutes.POST("/:id/cancel", handlers.CancelBooking(db))
			}
		}
	}

	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
