package settlement

import (
	"context"
	"log"
	"time"

	"github.com/ridepool/ridepool-backend/internal/models"
)

// LockTTL bounds how long a crashed or stalled settlement run keeps its
// booking locked. A holder that makes no progress within the TTL is treated
// as gone and the next sweep takes over.
const LockTTL = 10 * time.Minute

// AcquireLock takes the per-booking settlement lock by stamping
// sys.settlementLockAt inside a store transaction. The lock only means
// anything while the booking is still authorized; any other status means the
// settlement already happened and the caller must not proceed.
//
// Any store error is treated as lock-not-acquired: the booking is simply
// skipped this round and picked up by a later sweep.
func AcquireLock(ctx context.Context, st Store, bookingID string, now time.Time) bool {
	acquired := false
	err := st.ReadModifyWrite(ctx, bookingID, func(b *models.Booking) (bool, error) {
		acquired = false
		if b.Status != models.BookingStatusAuthorized {
			return false, nil
		}
		prev := b.SysFlag(models.SysSettlementLockAt)
		if prev != 0 && now.UnixMilli()-prev < LockTTL.Milliseconds() {
			return false, nil
		}
		b.SetSysFlag(models.SysSettlementLockAt, now.UnixMilli())
		acquired = true
		return true, nil
	})
	if err != nil {
		log.Printf("settlement: lock acquisition failed for booking %s: %v", bookingID, err)
		return false
	}
	return acquired
}
