package settlement

import (
	"context"
	"errors"

	"github.com/ridepool/ridepool-backend/internal/models"
	"github.com/ridepool/ridepool-backend/internal/store"
)

// AppendSystemMessageOnce appends msg to the booking's conversation and
// stamps sys[flag] in one transaction. Re-running with the same flag is a
// no-op, which is what makes the executor safe to invoke repeatedly for the
// same booking. Returns true only on the call that actually appended, so
// callers can gate the matching notification on it.
//
// A missing booking is a silent no-op: the retention job may delete bookings
// out from under an in-flight settlement.
func AppendSystemMessageOnce(ctx context.Context, st Store, bookingID string, msg models.Message, flag string) (bool, error) {
	appended := false
	err := st.ReadModifyWrite(ctx, bookingID, func(b *models.Booking) (bool, error) {
		appended = false
		if b.SysFlag(flag) != 0 {
			return false, nil
		}
		b.AppendMessage(msg)
		b.SetSysFlag(flag, msg.CreatedAt)
		appended = true
		return true, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return appended, nil
}
