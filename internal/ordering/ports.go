package ordering

import (
	"context"
	"errors"
	"time"

	"github.com/Vovarama1992/messenger-pos-bot/internal/ai"
)

type Stage string

const (
	StageIdle              Stage = "idle"
	StageCollectingName    Stage = "collecting_name"
	StageCollectingAddress Stage = "collecting_address"
)

func (s Stage) Valid() bool {
	switch s {
	case StageIdle, StageCollectingName, StageCollectingAddress:
		return true
	}
	return false
}

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("session was modified concurrently")
	ErrEmptyCart    = errors.New("cart is empty")
	ErrInvalidStage = errors.New("invalid session stage")
)

const (
	DefaultCustomerName = "Messenger Customer"
	DefaultAddress      = "Not provided"
	OrderStatusActive   = "active"
	orderNotesPrefix    = "Order placed via Messenger - Address: "
)

// CartLine is one orderable item in a session cart. Price is captured
// when the item is added.
type CartLine struct {
	ItemID    string  `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

func (l CartLine) Subtotal() float64 {
	return l.UnitPrice * float64(l.Quantity)
}

// Profile holds customer details collected during checkout.
type Profile struct {
	Name    *string `json:"customer_name,omitempty"`
	Address *string `json:"customer_address,omitempty"`
}

// Session is the per-user dialogue state, keyed by the Messenger PSID.
type Session struct {
	PSID        string
	Stage       Stage
	Cart        []CartLine
	Profile     Profile
	LastOrderID string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Customer struct {
	ID   string
	PSID string
	Name string
}

type MenuItem struct {
	ID          string
	Name        string
	Description string
	Price       float64
	ImageURL    string
	Available   bool
	TodayMenu   bool
}

func (m MenuItem) Orderable() bool {
	return m.Available && m.TodayMenu
}

type Order struct {
	ID           string
	CustomerName string
	TotalAmount  float64
	Status       string
	Notes        string
	CreatedAt    time.Time
	Items        []OrderItem
}

type OrderItem struct {
	ID                  string
	OrderID             string
	MenuItemID          string
	MenuItemName        string
	Quantity            int
	UnitPrice           float64
	SpecialInstructions *string
}

// Repo is the persistence port backed by Postgres in production.
type Repo interface {
	FindCustomer(ctx context.Context, psid string) (*Customer, error)
	CreateCustomer(ctx context.Context, c *Customer) error

	GetSession(ctx context.Context, psid string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	// UpdateSession writes stage, cart and profile when s.Version matches
	// the stored row and bumps s.Version. Returns ErrConflict otherwise.
	UpdateSession(ctx context.Context, s *Session) error
	// ResetSession clears the profile, records lastOrderID and returns the
	// stage to idle. It leaves cart_items alone: the cart was emptied when
	// it was claimed and anything in it now was added afterwards.
	ResetSession(ctx context.Context, psid, lastOrderID string) error

	ListTodayMenu(ctx context.Context) ([]MenuItem, error)
	GetMenuItem(ctx context.Context, id string) (*MenuItem, error)

	CreateOrder(ctx context.Context, o *Order) error
	CreateOrderItems(ctx context.Context, items []OrderItem) error
	DeleteOrder(ctx context.Context, id string) error
	GetOrder(ctx context.Context, id string) (*Order, error)
}

type QuickReply struct {
	Title   string
	Payload string
}

type Button struct {
	Title   string
	Payload string
}

type CarouselElement struct {
	Title    string
	Subtitle string
	ImageURL string
	Buttons  []Button
}

// Outbound delivers replies to a Messenger user.
type Outbound interface {
	SendText(ctx context.Context, psid, text string) error
	SendQuickReplies(ctx context.Context, psid, text string, replies []QuickReply) error
	SendCarousel(ctx context.Context, psid string, elements []CarouselElement) error
}

// ItemMatcher resolves a free-text item phrase to one of the candidate ids.
// An empty id means no confident match.
type ItemMatcher interface {
	MatchItem(ctx context.Context, phrase string, candidates []ai.Candidate) (string, error)
}

type InputKind int

const (
	InputText InputKind = iota + 1
	InputAction
)

// Input is one classified inbound event. Text is trimmed and lower-cased
// for command matching; Raw keeps the trimmed original for profile values.
type Input struct {
	Kind    InputKind
	Text    string
	Raw     string
	Payload string
}

// Service runs one dialogue turn per inbound event.
type Service interface {
	HandleEvent(ctx context.Context, psid string, in Input) error
}
