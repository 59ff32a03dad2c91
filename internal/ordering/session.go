package ordering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/Vovarama1992/messenger-pos-bot/internal/logger"
)

// NewSession returns a fresh idle session with an empty cart.
func NewSession(psid string) *Session {
	return &Session{
		PSID:  psid,
		Stage: StageIdle,
		Cart:  []CartLine{},
	}
}

// AddItem adds one unit of item, merging into an existing line for the
// same id. The unit price of an existing line is kept.
func (s *Session) AddItem(item MenuItem) CartLine {
	for i := range s.Cart {
		if s.Cart[i].ItemID == item.ID {
			s.Cart[i].Quantity++
			return s.Cart[i]
		}
	}

	line := CartLine{
		ItemID:    item.ID,
		Name:      item.Name,
		UnitPrice: item.Price,
		Quantity:  1,
	}
	s.Cart = append(s.Cart, line)
	return line
}

// RemoveItem drops the line for itemID and reports whether one existed.
func (s *Session) RemoveItem(itemID string) bool {
	kept := s.Cart[:0:0]
	removed := false
	for _, l := range s.Cart {
		if l.ItemID == itemID {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	s.Cart = kept
	return removed
}

// ClearCart empties the cart and discards any collected profile.
func (s *Session) ClearCart() {
	s.Cart = []CartLine{}
	s.Profile = Profile{}
}

func (s *Session) Total() float64 {
	return cartTotal(s.Cart)
}

func (s *Session) SetName(name string) {
	s.Profile.Name = &name
}

func (s *Session) SetAddress(address string) {
	s.Profile.Address = &address
}

func cartTotal(lines []CartLine) float64 {
	var total float64
	for _, l := range lines {
		total += l.Subtotal()
	}
	return math.Round(total*100) / 100
}

type sessionManager struct {
	repo Repo
	log  *slog.Logger
}

// EnsureCustomer creates the customer row on first contact. Failures are
// logged and never block the turn.
func (m *sessionManager) EnsureCustomer(ctx context.Context, psid string) {
	_, err := m.repo.FindCustomer(ctx, psid)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrNotFound) {
		logger.RecordFailure(m.log, logger.FailureStoreRead, err, "op", "find_customer", "psid", psid)
		return
	}

	c := &Customer{PSID: psid, Name: DefaultCustomerName}
	if err := m.repo.CreateCustomer(ctx, c); err != nil {
		logger.RecordFailure(m.log, logger.FailureStoreWrite, err, "op", "create_customer", "psid", psid)
	}
}

// Load returns the stored session for psid, creating it on first contact.
func (m *sessionManager) Load(ctx context.Context, psid string) (*Session, error) {
	s, err := m.repo.GetSession(ctx, psid)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get session: %w", err)
	}

	s = NewSession(psid)
	if err := m.repo.CreateSession(ctx, s); err != nil {
		// another delivery for the same user may have created it first
		if errors.Is(err, ErrConflict) {
			return m.repo.GetSession(ctx, psid)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Save persists stage, cart and profile. It refuses stages outside the
// known set.
func (m *sessionManager) Save(ctx context.Context, s *Session) error {
	if !s.Stage.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStage, s.Stage)
	}
	return m.repo.UpdateSession(ctx, s)
}
