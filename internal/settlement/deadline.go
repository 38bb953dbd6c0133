package settlement

import (
	"context"

	"github.com/ridepool/ridepool-backend/internal/models"
)

// EnsureDeadline returns the booking's report-window deadline. Legacy rows
// written before the deadline was stamped at authorization carry a zero
// deadline; for those the derived value is persisted inside the same store
// transaction that computes it, so every later evaluation — on-demand or
// sweep — sees one deadline regardless of which path ran first.
func EnsureDeadline(ctx context.Context, st Store, b *models.Booking) (int64, error) {
	deadline := b.ReportWindowDeadline()
	if b.ReportWindowEndsAt != 0 {
		return deadline, nil
	}
	err := st.ReadModifyWrite(ctx, b.ID, func(cur *models.Booking) (bool, error) {
		if cur.ReportWindowEndsAt != 0 {
			deadline = cur.ReportWindowEndsAt
			return false, nil
		}
		cur.ReportWindowEndsAt = deadline
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return deadline, nil
}
