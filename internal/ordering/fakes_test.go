package ordering

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// memRepo is an in-memory Repo with per-operation error injection.
type memRepo struct {
	mu        sync.Mutex
	customers map[string]Customer
	sessions  map[string]Session
	menu      map[string]MenuItem
	orders    map[string]Order
	items     map[string][]OrderItem

	failCreateOrder      error
	failCreateOrderItems error
	failUpdateSession    error
	failGetSession       error
	failListMenu         error

	// beforeCreateOrder runs once, outside the lock, ahead of the next
	// CreateOrder. Tests use it to interleave a second turn.
	beforeCreateOrder func()

	// conflictsLeft makes the next N UpdateSession calls return ErrConflict.
	conflictsLeft int

	calls map[string]int
}

func newMemRepo(menu ...MenuItem) *memRepo {
	r := &memRepo{
		customers: map[string]Customer{},
		sessions:  map[string]Session{},
		menu:      map[string]MenuItem{},
		orders:    map[string]Order{},
		items:     map[string][]OrderItem{},
		calls:     map[string]int{},
	}
	for _, m := range menu {
		r.menu[m.ID] = m
	}
	return r
}

func (r *memRepo) call(name string) {
	r.calls[name]++
}

func (r *memRepo) totalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func cloneSession(s Session) Session {
	s.Cart = append([]CartLine{}, s.Cart...)
	if s.Profile.Name != nil {
		v := *s.Profile.Name
		s.Profile.Name = &v
	}
	if s.Profile.Address != nil {
		v := *s.Profile.Address
		s.Profile.Address = &v
	}
	return s
}

func (r *memRepo) FindCustomer(_ context.Context, psid string) (*Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("FindCustomer")

	c, ok := r.customers[psid]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *memRepo) CreateCustomer(_ context.Context, c *Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("CreateCustomer")

	if _, ok := r.customers[c.PSID]; ok {
		return nil
	}
	c.ID = "cust-" + c.PSID
	r.customers[c.PSID] = *c
	return nil
}

func (r *memRepo) GetSession(_ context.Context, psid string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("GetSession")

	if r.failGetSession != nil {
		return nil, r.failGetSession
	}
	s, ok := r.sessions[psid]
	if !ok {
		return nil, ErrNotFound
	}
	s = cloneSession(s)
	return &s, nil
}

func (r *memRepo) CreateSession(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("CreateSession")

	if _, ok := r.sessions[s.PSID]; ok {
		return ErrConflict
	}
	s.Version = 0
	r.sessions[s.PSID] = cloneSession(*s)
	return nil
}

func (r *memRepo) UpdateSession(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("UpdateSession")

	if r.failUpdateSession != nil {
		return r.failUpdateSession
	}
	cur, ok := r.sessions[s.PSID]
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		// simulate a concurrent writer bumping the row
		cur.Version++
		r.sessions[s.PSID] = cur
		return ErrConflict
	}
	if !ok || cur.Version != s.Version {
		return ErrConflict
	}

	s.Version++
	r.sessions[s.PSID] = cloneSession(*s)
	return nil
}

func (r *memRepo) ResetSession(_ context.Context, psid, lastOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("ResetSession")

	cur := r.sessions[psid]
	cur.Stage = StageIdle
	cur.Profile = Profile{}
	cur.LastOrderID = lastOrderID
	cur.Version++
	r.sessions[psid] = cur
	return nil
}

func (r *memRepo) ListTodayMenu(_ context.Context) ([]MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("ListTodayMenu")

	if r.failListMenu != nil {
		return nil, r.failListMenu
	}
	var out []MenuItem
	for _, m := range r.menu {
		if m.Orderable() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) GetMenuItem(_ context.Context, id string) (*MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("GetMenuItem")

	m, ok := r.menu[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r *memRepo) CreateOrder(_ context.Context, o *Order) error {
	if hook := r.beforeCreateOrder; hook != nil {
		r.beforeCreateOrder = nil
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("CreateOrder")

	if r.failCreateOrder != nil {
		return r.failCreateOrder
	}
	r.orders[o.ID] = *o
	return nil
}

func (r *memRepo) CreateOrderItems(_ context.Context, items []OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("CreateOrderItems")

	if r.failCreateOrderItems != nil {
		return r.failCreateOrderItems
	}
	for _, it := range items {
		r.items[it.OrderID] = append(r.items[it.OrderID], it)
	}
	return nil
}

func (r *memRepo) DeleteOrder(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("DeleteOrder")

	delete(r.orders, id)
	delete(r.items, id)
	return nil
}

func (r *memRepo) GetOrder(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("GetOrder")

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Items = append([]OrderItem{}, r.items[id]...)
	return &o, nil
}

// session returns a copy of the stored session for assertions.
func (r *memRepo) session(psid string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSession(r.sessions[psid])
}

func (r *memRepo) setSession(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.PSID] = cloneSession(s)
}

type sent struct {
	kind     string
	text     string
	quick    []QuickReply
	elements []CarouselElement
}

// recordingOutbound captures every reply.
type recordingOutbound struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (o *recordingOutbound) SendText(_ context.Context, _ string, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sent{kind: "text", text: text})
	return o.err
}

func (o *recordingOutbound) SendQuickReplies(_ context.Context, _ string, text string, replies []QuickReply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sent{kind: "quick", text: text, quick: replies})
	return o.err
}

func (o *recordingOutbound) SendCarousel(_ context.Context, _ string, elements []CarouselElement) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sent{kind: "carousel", elements: elements})
	return o.err
}

func (o *recordingOutbound) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = nil
}

func (o *recordingOutbound) last() sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		return sent{}
	}
	return o.sent[len(o.sent)-1]
}

func (o *recordingOutbound) contains(substr string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sent {
		if strings.Contains(s.text, substr) {
			return true
		}
	}
	return false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func text(raw string) Input {
	return Input{Kind: InputText, Raw: strings.TrimSpace(raw), Text: NormalizeText(raw)}
}

func action(payload string) Input {
	return Input{Kind: InputAction, Payload: payload}
}
