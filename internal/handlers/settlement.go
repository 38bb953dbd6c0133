package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ridepool/ridepool-backend/internal/models"
	"github.com/ridepool/ridepool-backend/internal/settlement"
	"github.com/ridepool/ridepool-backend/internal/store"
	"github.com/ridepool/ridepool-backend/pkg/utils"
)

// SettleBooking is the on-demand settlement trigger. It runs the same
// decision logic as the scheduled sweep for a single booking, so a user
// pressing "finish now" gets immediate, structured feedback instead of
// waiting for the next sweep tick.
//
// The route sits outside the auth middleware: clients may carry the session
// token in the request body (userToken) instead of the Authorization header,
// so the handler resolves the caller itself.
func SettleBooking(st settlement.Store, exec *settlement.Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			BookingID string `json:"bookingId" binding:"required"`
			UserToken string `json:"userToken"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		userId, ok := settleCaller(c, input.UserToken)
		if !ok {
			c.JSON(401, gin.H{"error": "Invalid token"})
			return
		}

		ctx := c.Request.Context()
		booking, err := st.Get(ctx, input.BookingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(404, gin.H{"error": "Booking not found"})
				return
			}
			c.JSON(500, gin.H{"error": "Failed to load booking"})
			return
		}

		if !booking.IsParty(userId) {
			c.JSON(403, gin.H{"error": "Not a party to this booking"})
			return
		}

		if booking.Status != models.BookingStatusAuthorized {
			c.JSON(200, gin.H{"ok": true, "skipped": settlement.SkipNotAuthorized})
			return
		}

		now := time.Now()
		if exec.Now != nil {
			now = exec.Now()
		}

		deadline, err := settlement.EnsureDeadline(ctx, st, booking)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to update booking"})
			return
		}
		if now.UnixMilli() < deadline {
			c.JSON(200, gin.H{
				"ok":                 true,
				"skipped":            settlement.SkipWindowNotEnded,
				"reportWindowEndsAt": deadline,
			})
			return
		}

		if !settlement.AcquireLock(ctx, st, booking.ID, now) {
			c.JSON(200, gin.H{"ok": true, "skipped": settlement.SkipLocked})
			return
		}

		out := exec.Settle(ctx, booking.ID)
		switch out.Result {
		case settlement.ResultCaptured:
			c.JSON(200, gin.H{"ok": true, "captured": true})
		case settlement.ResultVoided:
			c.JSON(200, gin.H{"ok": true, "voided": true, "reason": out.Reason})
		case settlement.ResultSkipped:
			c.JSON(200, gin.H{"ok": true, "skipped": out.Reason})
		default:
			c.JSON(500, gin.H{"ok": false, "error": "Settlement failed", "reason": out.Reason})
		}
	}
}

// settleCaller resolves the calling user: a middleware-set id wins, then the
// body token, then the Authorization header or token query parameter.
func settleCaller(c *gin.Context, bodyToken string) (uint, bool) {
	if v, exists := c.Get("userId"); exists {
		if id, ok := v.(uint); ok {
			return id, true
		}
	}

	tokenString := bodyToken
	if tokenString == "" {
		if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		tokenString = c.Query("token")
	}
	if tokenString == "" {
		return 0, false
	}

	claims, err := utils.TokenClaims(tokenString)
	if err != nil {
		return 0, false
	}
	id, ok := claims["id"].(float64)
	if !ok {
		return 0, false
	}
	return uint(id), true
}
