package ordering

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) Repo {
	return &repo{db: db}
}

// Migrate creates the tables the dialogue needs when they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *repo) FindCustomer(ctx context.Context, psid string) (*Customer, error) {
	var c Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT id::text, messenger_psid, name
		FROM customers
		WHERE messenger_psid = $1
	`, psid).Scan(&c.ID, &c.PSID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repo) CreateCustomer(ctx context.Context, c *Customer) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO customers (messenger_psid, name)
		VALUES ($1, $2)
		ON CONFLICT (messenger_psid) DO NOTHING
		RETURNING id::text
	`, c.PSID, c.Name).Scan(&c.ID)
	// no row back means a concurrent insert won; the customer exists
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// sessionData is the session_data jsonb column.
type sessionData struct {
	CustomerName    *string `json:"customer_name,omitempty"`
	CustomerAddress *string `json:"customer_address,omitempty"`
	LastOrderID     string  `json:"last_order_id,omitempty"`
}

func (r *repo) GetSession(ctx context.Context, psid string) (*Session, error) {
	s := Session{PSID: psid}
	var (
		stage   string
		cartRaw []byte
		dataRaw []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT stage, cart_items, session_data, version, created_at, updated_at
		FROM bot_sessions
		WHERE messenger_psid = $1
	`, psid).Scan(&stage, &cartRaw, &dataRaw, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Stage = Stage(stage)
	if !s.Stage.Valid() {
		s.Stage = StageIdle
	}

	cart, legacy, err := decodeCart(cartRaw)
	if err != nil {
		return nil, fmt.Errorf("decode cart_items: %w", err)
	}
	s.Cart = cart

	var data sessionData
	if len(dataRaw) > 0 {
		if err := json.Unmarshal(dataRaw, &data); err != nil {
			return nil, fmt.Errorf("decode session_data: %w", err)
		}
	}

	s.Profile = legacy
	if data.CustomerName != nil {
		s.Profile.Name = data.CustomerName
	}
	if data.CustomerAddress != nil {
		s.Profile.Address = data.CustomerAddress
	}
	s.LastOrderID = data.LastOrderID

	return &s, nil
}

func (r *repo) CreateSession(ctx context.Context, s *Session) error {
	cart, data, err := encodeSession(s)
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO bot_sessions (messenger_psid, stage, cart_items, session_data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (messenger_psid) DO NOTHING
		RETURNING version, created_at, updated_at
	`, s.PSID, string(s.Stage), cart, data).Scan(&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	return err
}

func (r *repo) UpdateSession(ctx context.Context, s *Session) error {
	cart, data, err := encodeSession(s)
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx, `
		UPDATE bot_sessions
		SET stage = $2,
		    cart_items = $3,
		    session_data = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE messenger_psid = $1 AND version = $5
		RETURNING version, updated_at
	`, s.PSID, string(s.Stage), cart, data, s.Version).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	return err
}

func (r *repo) ResetSession(ctx context.Context, psid, lastOrderID string) error {
	data, err := json.Marshal(sessionData{LastOrderID: lastOrderID})
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE bot_sessions
		SET stage = 'idle',
		    session_data = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE messenger_psid = $1
	`, psid, string(data))
	return err
}

func (r *repo) ListTodayMenu(ctx context.Context) ([]MenuItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id::text, name, coalesce(description, ''), price,
		       coalesce(image_url, ''), is_available, is_today_menu
		FROM menu_items
		WHERE is_today_menu AND is_available
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MenuItem
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Price, &m.ImageURL, &m.Available, &m.TodayMenu); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repo) GetMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	var m MenuItem
	err := r.db.QueryRowContext(ctx, `
		SELECT id::text, name, coalesce(description, ''), price,
		       coalesce(image_url, ''), is_available, is_today_menu
		FROM menu_items
		WHERE id::text = $1
	`, id).Scan(&m.ID, &m.Name, &m.Description, &m.Price, &m.ImageURL, &m.Available, &m.TodayMenu)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repo) CreateOrder(ctx context.Context, o *Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, customer_name, total_amount, status, table_id, staff_notes, created_at)
		VALUES ($1, $2, $3, $4, NULL, $5, $6)
	`, o.ID, o.CustomerName, o.TotalAmount, o.Status, o.Notes, o.CreatedAt)
	return err
}

// CreateOrderItems bulk-loads items with COPY inside one transaction, so
// either every item is written or none is.
func (r *repo) CreateOrderItems(ctx context.Context, items []OrderItem) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("order_items",
		"id", "order_id", "menu_item_id", "quantity", "unit_price", "special_instructions"))
	if err != nil {
		return err
	}

	for _, it := range items {
		if _, err = stmt.ExecContext(ctx, it.ID, it.OrderID, it.MenuItemID, it.Quantity, it.UnitPrice, it.SpecialInstructions); err != nil {
			_ = stmt.Close()
			return err
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return err
	}
	if err = stmt.Close(); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *repo) DeleteOrder(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	return err
}

func (r *repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	o := Order{ID: id}
	var notes sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT customer_name, total_amount, status, staff_notes, created_at
		FROM orders
		WHERE id::text = $1
	`, id).Scan(&o.CustomerName, &o.TotalAmount, &o.Status, &notes, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Notes = notes.String

	rows, err := r.db.QueryContext(ctx, `
		SELECT oi.id::text, oi.menu_item_id, coalesce(m.name, oi.menu_item_id),
		       oi.quantity, oi.unit_price, oi.special_instructions
		FROM order_items oi
		LEFT JOIN menu_items m ON m.id::text = oi.menu_item_id
		WHERE oi.order_id::text = $1
		ORDER BY m.name ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		it := OrderItem{OrderID: id}
		var note sql.NullString
		if err := rows.Scan(&it.ID, &it.MenuItemID, &it.MenuItemName, &it.Quantity, &it.UnitPrice, &note); err != nil {
			return nil, err
		}
		if note.Valid {
			it.SpecialInstructions = &note.String
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func encodeSession(s *Session) (cart, data string, err error) {
	lines := s.Cart
	if lines == nil {
		lines = []CartLine{}
	}
	cb, err := json.Marshal(lines)
	if err != nil {
		return "", "", fmt.Errorf("encode cart: %w", err)
	}

	pb, err := json.Marshal(sessionData{
		CustomerName:    s.Profile.Name,
		CustomerAddress: s.Profile.Address,
		LastOrderID:     s.LastOrderID,
	})
	if err != nil {
		return "", "", fmt.Errorf("encode session data: %w", err)
	}
	return string(cb), string(pb), nil
}

// legacyFact is the shape older sessions used to keep the customer's name
// and address inside cart_items.
type legacyFact struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// decodeCart splits a cart_items array into menu lines and any legacy
// profile facts. The last fact of each type wins.
func decodeCart(raw []byte) ([]CartLine, Profile, error) {
	var profile Profile
	lines := []CartLine{}
	if len(raw) == 0 {
		return lines, profile, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, profile, err
	}

	for _, e := range entries {
		var fact legacyFact
		if err := json.Unmarshal(e, &fact); err == nil {
			switch fact.Type {
			case "customer_name":
				v := fact.Value
				profile.Name = &v
				continue
			case "customer_address":
				v := fact.Value
				profile.Address = &v
				continue
			}
		}

		var l CartLine
		if err := json.Unmarshal(e, &l); err != nil {
			return nil, profile, err
		}
		lines = append(lines, l)
	}
	return lines, profile, nil
}

// storeReason extracts a user-presentable reason from a store error.
func storeReason(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the request timed out"
	}
	var fe *FinalizeError
	if errors.As(err, &fe) {
		return fe.Err.Error()
	}
	return err.Error()
}
