package ordering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Vovarama1992/messenger-pos-bot/internal/logger"
)

// FinalizeError reports which step of order creation failed. Nothing is
// left behind when it is returned: an order whose items failed to insert
// has already been deleted and the cart lines are back in the session.
type FinalizeError struct {
	Step string // "claim" | "order" | "items"
	Err  error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize %s: %v", e.Step, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

type finalizer struct {
	repo  Repo
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

func newFinalizer(repo Repo, log *slog.Logger) *finalizer {
	return &finalizer{
		repo:  repo,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Finalize places the order for sess. The cart is first claimed by a
// version-checked write that empties it, so two confirmations of one cart
// create one order: the loser gets ErrConflict and replays against the
// emptied row. If the order cannot be written the lines are put back.
func (f *finalizer) Finalize(ctx context.Context, sess *Session, name, address string) (*Order, error) {
	lines := append([]CartLine(nil), sess.Cart...)
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	claim := *sess
	claim.Cart = []CartLine{}
	if err := f.repo.UpdateSession(ctx, &claim); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		logger.RecordFailure(f.log, logger.FailureStoreWrite, err, "op", "claim_cart", "psid", sess.PSID)
		return nil, &FinalizeError{Step: "claim", Err: err}
	}

	order := &Order{
		ID:           f.newID(),
		CustomerName: name,
		TotalAmount:  cartTotal(lines),
		Status:       OrderStatusActive,
		Notes:        orderNotesPrefix + address,
		CreatedAt:    f.now().UTC(),
	}

	if err := f.repo.CreateOrder(ctx, order); err != nil {
		logger.RecordFailure(f.log, logger.FailureOrderCreate, err, "psid", sess.PSID)
		f.restoreCart(ctx, sess.PSID, lines)
		return nil, &FinalizeError{Step: "order", Err: err}
	}

	items := make([]OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, OrderItem{
			ID:           f.newID(),
			OrderID:      order.ID,
			MenuItemID:   l.ItemID,
			MenuItemName: l.Name,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
		})
	}

	if err := f.repo.CreateOrderItems(ctx, items); err != nil {
		logger.RecordFailure(f.log, logger.FailureOrderItems, err, "psid", sess.PSID, "order_id", order.ID)
		if delErr := f.repo.DeleteOrder(ctx, order.ID); delErr != nil {
			logger.RecordFailure(f.log, logger.FailureStoreWrite, delErr,
				"op", "delete_orphan_order", "order_id", order.ID)
		}
		f.restoreCart(ctx, sess.PSID, lines)
		return nil, &FinalizeError{Step: "items", Err: err}
	}
	order.Items = items

	// The order is committed at this point; a failed reset only leaves the
	// profile behind.
	if err := f.repo.ResetSession(ctx, sess.PSID, order.ID); err != nil {
		logger.RecordFailure(f.log, logger.FailureStoreWrite, err, "op", "reset_session", "psid", sess.PSID)
	}

	f.log.Info("order placed",
		"psid", sess.PSID,
		"order_id", order.ID,
		"lines", len(items),
		"total", order.TotalAmount,
	)
	return order, nil
}

// restoreCart puts claimed lines back in front of whatever the user added
// since the claim.
func (f *finalizer) restoreCart(ctx context.Context, psid string, lines []CartLine) {
	var err error
	for attempt := 0; attempt < maxTurnAttempts; attempt++ {
		var cur *Session
		cur, err = f.repo.GetSession(ctx, psid)
		if err != nil {
			break
		}
		cur.Cart = mergeLines(lines, cur.Cart)
		if err = f.repo.UpdateSession(ctx, cur); !errors.Is(err, ErrConflict) {
			break
		}
	}
	if err != nil {
		logger.RecordFailure(f.log, logger.FailureStoreWrite, err, "op", "restore_cart", "psid", psid)
	}
}

// mergeLines appends added to base, summing quantities of lines with the
// same item. base prices win.
func mergeLines(base, added []CartLine) []CartLine {
	out := append([]CartLine{}, base...)
	for _, a := range added {
		merged := false
		for i := range out {
			if out[i].ItemID == a.ItemID {
				out[i].Quantity += a.Quantity
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, a)
		}
	}
	return out
}
