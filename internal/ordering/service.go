package ordering

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Vovarama1992/messenger-pos-bot/internal/ai"
	"github.com/Vovarama1992/messenger-pos-bot/internal/logger"
)

const (
	// A turn whose session save loses a version race is replayed against
	// the fresh row at most this many times.
	maxTurnAttempts = 3

	// Messenger renders at most ten elements per generic template.
	carouselPageSize = 10

	receiptDateLayout = "Jan 2, 2006 3:04 PM"
)

type service struct {
	repo     Repo
	sessions *sessionManager
	final    *finalizer
	matcher  ItemMatcher
	outbound Outbound
	catalog  *Catalog
	log      *slog.Logger
}

// NewService wires the dialogue. A nil repo means the store is not
// configured and every event gets the "temporarily unavailable" reply.
// matcher may be nil.
func NewService(repo Repo, matcher ItemMatcher, outbound Outbound, log *slog.Logger) Service {
	log = log.With("component", "ordering")
	return &service{
		repo:     repo,
		sessions: &sessionManager{repo: repo, log: log},
		final:    newFinalizer(repo, log),
		matcher:  matcher,
		outbound: outbound,
		catalog:  DefaultCatalog(),
		log:      log,
	}
}

func (s *service) HandleEvent(ctx context.Context, psid string, in Input) error {
	log := s.log.With("psid", psid)

	if s.repo == nil {
		out := &outbox{}
		out.text(s.catalog.Text(msgUnavailable, nil))
		s.flush(ctx, log, psid, out)
		return nil
	}

	if in.Kind == InputAction && ParseAction(in.Payload).Kind == CmdNone {
		log.Debug("ignoring unknown payload", "payload", in.Payload)
		return nil
	}

	for attempt := 1; attempt <= maxTurnAttempts; attempt++ {
		t := &turn{svc: s, psid: psid, log: log, out: &outbox{}}

		err := t.run(ctx, in)
		if errors.Is(err, ErrConflict) {
			logger.RecordFailure(log, logger.FailureConflict, err, "attempt", attempt)
			continue
		}

		s.flush(ctx, log, psid, t.out)
		return err
	}

	out := &outbox{}
	out.text(s.catalog.Text(msgBusy, nil))
	s.flush(ctx, log, psid, out)
	return nil
}

// flush sends queued replies in order. Delivery errors are recorded and
// do not stop later replies.
func (s *service) flush(ctx context.Context, log *slog.Logger, psid string, out *outbox) {
	for _, r := range out.replies {
		var err error
		switch r.kind {
		case replyText:
			err = s.outbound.SendText(ctx, psid, r.text)
		case replyQuick:
			err = s.outbound.SendQuickReplies(ctx, psid, r.text, r.quick)
		case replyCarousel:
			err = s.outbound.SendCarousel(ctx, psid, r.elements)
		}
		if err != nil {
			logger.RecordFailure(log, logger.FailureDelivery, err, "reply", r.kind.String())
		}
	}
}

type replyKind int

const (
	replyText replyKind = iota
	replyQuick
	replyCarousel
)

func (k replyKind) String() string {
	switch k {
	case replyQuick:
		return "quick_replies"
	case replyCarousel:
		return "carousel"
	default:
		return "text"
	}
}

type reply struct {
	kind     replyKind
	text     string
	quick    []QuickReply
	elements []CarouselElement
}

// outbox buffers a turn's replies until the turn has committed.
type outbox struct {
	replies []reply
}

func (o *outbox) text(t string) {
	o.replies = append(o.replies, reply{kind: replyText, text: t})
}

func (o *outbox) quick(t string, qr []QuickReply) {
	o.replies = append(o.replies, reply{kind: replyQuick, text: t, quick: qr})
}

func (o *outbox) carousel(elements []CarouselElement) {
	o.replies = append(o.replies, reply{kind: replyCarousel, elements: elements})
}

// turn is one attempt at handling one inbound event.
type turn struct {
	svc  *service
	psid string
	log  *slog.Logger
	out  *outbox
}

func (t *turn) run(ctx context.Context, in Input) error {
	s := t.svc

	s.sessions.EnsureCustomer(ctx, t.psid)

	sess, err := s.sessions.Load(ctx, t.psid)
	if err != nil {
		logger.RecordFailure(t.log, logger.FailureStoreRead, err, "op", "load_session")
		t.out.text(s.catalog.Text(msgSessionError, nil))
		return nil
	}

	var cmd Command
	switch in.Kind {
	case InputText:
		// Collection stages consume free text before command matching.
		switch sess.Stage {
		case StageCollectingName:
			return t.collectName(ctx, sess, in.Raw)
		case StageCollectingAddress:
			return t.collectAddress(ctx, sess, in.Raw)
		}
		cmd = ParseText(in.Text)
	case InputAction:
		cmd = ParseAction(in.Payload)
	}

	t.log.Debug("dispatch", "command", cmd.Kind.String(), "stage", string(sess.Stage))
	return t.dispatch(ctx, sess, cmd)
}

func (t *turn) dispatch(ctx context.Context, sess *Session, cmd Command) error {
	switch cmd.Kind {
	case CmdWelcome:
		t.welcome()
	case CmdShowMenu:
		t.showMenu(ctx)
	case CmdShowCart:
		t.showCart(sess)
	case CmdCheckout, CmdPlaceOrder:
		return t.checkout(ctx, sess)
	case CmdAddByName:
		return t.addByName(ctx, sess, cmd.Arg)
	case CmdAddByID:
		return t.addByID(ctx, sess, cmd.Arg)
	case CmdRemove:
		return t.remove(ctx, sess, cmd.Arg)
	case CmdClearCart:
		return t.clearCart(ctx, sess)
	case CmdReceipt:
		t.receipt(ctx, sess)
	case CmdNone:
	}
	return nil
}

// save persists sess. A version conflict is returned for the caller to
// replay the turn; any other failure is reported to the user and swallowed.
func (t *turn) save(ctx context.Context, sess *Session) error {
	err := t.svc.sessions.Save(ctx, sess)
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}

	logger.RecordFailure(t.log, logger.FailureStoreWrite, err, "op", "update_session")
	t.out.text(t.svc.catalog.Text(msgStoreError, map[string]string{"Reason": storeReason(err)}))
	return errReported
}

// errReported marks a failure that already produced a user reply.
var errReported = errors.New("reported to user")

func (t *turn) welcome() {
	c := t.svc.catalog
	t.out.quick(c.Text(msgWelcome, nil), c.QuickReplies(quickDefault))
}

func (t *turn) collectName(ctx context.Context, sess *Session, raw string) error {
	c := t.svc.catalog
	if raw == "" {
		t.out.text(c.Text(msgAskName, nil))
		return nil
	}

	sess.SetName(raw)
	sess.Stage = StageCollectingAddress
	if err := t.save(ctx, sess); err != nil {
		return swallow(err)
	}

	t.out.text(c.Text(msgNameSaved, nil))
	return nil
}

func (t *turn) collectAddress(ctx context.Context, sess *Session, raw string) error {
	c := t.svc.catalog
	if raw == "" {
		t.out.text(c.Text(msgAskAddress, nil))
		return nil
	}

	sess.SetAddress(raw)
	sess.Stage = StageIdle
	if err := t.save(ctx, sess); err != nil {
		return swallow(err)
	}

	t.out.text(c.Text(msgAddressSaved, nil))
	return nil
}

func (t *turn) showMenu(ctx context.Context) {
	c := t.svc.catalog

	items, err := t.todayMenu(ctx)
	if err != nil {
		logger.RecordFailure(t.log, logger.FailureStoreRead, err, "op", "list_menu")
		t.out.text(c.Text(msgMenuError, nil))
		return
	}
	if len(items) == 0 {
		t.out.text(c.Text(msgMenuEmpty, nil))
		return
	}

	elements := make([]CarouselElement, 0, len(items))
	for _, it := range items {
		subtitle := it.Description
		if subtitle == "" {
			subtitle = c.Text(msgMenuItemSubtitle, nil)
		}
		elements = append(elements, CarouselElement{
			Title:    c.Text(msgMenuItemTitle, it),
			Subtitle: subtitle,
			ImageURL: it.ImageURL,
			Buttons: []Button{
				{Title: "Add to Cart", Payload: AddPayload(it.ID)},
				{Title: "View Cart", Payload: PayloadViewCart},
			},
		})
	}

	for start := 0; start < len(elements); start += carouselPageSize {
		end := min(start+carouselPageSize, len(elements))
		t.out.carousel(elements[start:end])
	}

	t.out.quick(c.Text(msgMenuActions, nil), c.QuickReplies(quickAfterMenu))
}

// todayMenu lists orderable items ordered by name.
func (t *turn) todayMenu(ctx context.Context) ([]MenuItem, error) {
	items, err := t.svc.repo.ListTodayMenu(ctx)
	if err != nil {
		return nil, err
	}

	out := items[:0:0]
	for _, it := range items {
		if it.Orderable() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (t *turn) showCart(sess *Session) {
	c := t.svc.catalog

	if len(sess.Cart) == 0 {
		t.out.quick(c.Text(msgCartEmpty, nil), c.QuickReplies(quickDefault))
		return
	}

	text := c.Text(msgCart, map[string]any{
		"Lines": sess.Cart,
		"Total": sess.Total(),
	})
	t.out.quick(text, c.QuickReplies(quickCart))
}

func (t *turn) addByName(ctx context.Context, sess *Session, phrase string) error {
	c := t.svc.catalog

	items, err := t.todayMenu(ctx)
	if err != nil {
		logger.RecordFailure(t.log, logger.FailureStoreRead, err, "op", "list_menu")
		t.out.text(c.Text(msgMenuError, nil))
		return nil
	}

	item, ok := matchByName(items, phrase)
	if !ok {
		item, ok = t.matchWithAI(ctx, items, phrase)
	}
	if !ok {
		t.out.text(c.Text(msgItemUnknown, map[string]string{"Name": phrase}))
		return nil
	}

	return t.addItem(ctx, sess, item)
}

// matchByName returns the first item whose name contains phrase,
// ignoring case.
func matchByName(items []MenuItem, phrase string) (MenuItem, bool) {
	phrase = strings.ToLower(phrase)
	if phrase == "" {
		return MenuItem{}, false
	}
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), phrase) {
			return it, true
		}
	}
	return MenuItem{}, false
}

func (t *turn) matchWithAI(ctx context.Context, items []MenuItem, phrase string) (MenuItem, bool) {
	if t.svc.matcher == nil || len(items) == 0 || phrase == "" {
		return MenuItem{}, false
	}

	candidates := make([]ai.Candidate, 0, len(items))
	for _, it := range items {
		candidates = append(candidates, ai.Candidate{ID: it.ID, Name: it.Name})
	}

	id, err := t.svc.matcher.MatchItem(ctx, phrase, candidates)
	if err != nil {
		t.log.Warn("item matcher failed", "phrase", phrase, "error", err)
		return MenuItem{}, false
	}

	for _, it := range items {
		if id != "" && it.ID == id {
			t.log.Info("item matched by ai", "phrase", phrase, "item_id", id)
			return it, true
		}
	}
	return MenuItem{}, false
}

func (t *turn) addByID(ctx context.Context, sess *Session, id string) error {
	c := t.svc.catalog

	item, err := t.svc.repo.GetMenuItem(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		t.out.text(c.Text(msgItemGone, nil))
		return nil
	case err != nil:
		logger.RecordFailure(t.log, logger.FailureStoreRead, err, "op", "get_menu_item", "item_id", id)
		t.out.text(c.Text(msgStoreError, map[string]string{"Reason": storeReason(err)}))
		return nil
	case !item.Orderable():
		t.out.text(c.Text(msgItemGone, nil))
		return nil
	}

	return t.addItem(ctx, sess, *item)
}

func (t *turn) addItem(ctx context.Context, sess *Session, item MenuItem) error {
	sess.AddItem(item)
	if err := t.save(ctx, sess); err != nil {
		return swallow(err)
	}

	t.out.text(t.svc.catalog.Text(msgItemAdded, map[string]string{"Name": item.Name}))
	return nil
}

func (t *turn) remove(ctx context.Context, sess *Session, id string) error {
	if sess.RemoveItem(id) {
		if err := t.save(ctx, sess); err != nil {
			return swallow(err)
		}
	}

	t.out.text(t.svc.catalog.Text(msgItemRemoved, nil))
	return nil
}

func (t *turn) clearCart(ctx context.Context, sess *Session) error {
	c := t.svc.catalog

	sess.ClearCart()
	if err := t.save(ctx, sess); err != nil {
		return swallow(err)
	}

	t.out.quick(c.Text(msgCartCleared, nil), c.QuickReplies(quickDefault))
	return nil
}

// checkout serves both checkout and place order. It collects missing
// profile fields first and finalizes only when both are present.
func (t *turn) checkout(ctx context.Context, sess *Session) error {
	s := t.svc
	c := s.catalog

	if len(sess.Cart) == 0 {
		t.out.text(c.Text(msgCheckoutEmpty, nil))
		return nil
	}

	fresh, err := s.repo.GetSession(ctx, t.psid)
	if err != nil {
		logger.RecordFailure(t.log, logger.FailureStoreRead, err, "op", "refetch_session")
		t.out.text(c.Text(msgSessionError, nil))
		return nil
	}
	if len(fresh.Cart) == 0 {
		t.out.text(c.Text(msgCheckoutEmpty, nil))
		return nil
	}

	if fresh.Profile.Name == nil {
		fresh.Stage = StageCollectingName
		if err := t.save(ctx, fresh); err != nil {
			return swallow(err)
		}
		t.out.text(c.Text(msgAskName, nil))
		return nil
	}

	if fresh.Profile.Address == nil {
		fresh.Stage = StageCollectingAddress
		if err := t.save(ctx, fresh); err != nil {
			return swallow(err)
		}
		t.out.text(c.Text(msgAskAddress, nil))
		return nil
	}

	name := profileValue(fresh.Profile.Name, DefaultCustomerName)
	address := profileValue(fresh.Profile.Address, DefaultAddress)

	order, err := s.final.Finalize(ctx, fresh, name, address)
	if errors.Is(err, ErrConflict) {
		return err
	}
	if err != nil {
		t.out.text(c.Text(msgOrderError, map[string]string{"Reason": storeReason(err)}))
		return nil
	}

	t.out.text(c.Text(msgOrderPlaced, map[string]any{
		"OrderID": order.ID,
		"Name":    name,
		"Address": address,
		"Total":   order.TotalAmount,
	}))
	return nil
}

func (t *turn) receipt(ctx context.Context, sess *Session) {
	c := t.svc.catalog

	if sess.LastOrderID == "" {
		t.out.text(c.Text(msgReceiptNone, nil))
		return
	}

	order, err := t.svc.repo.GetOrder(ctx, sess.LastOrderID)
	switch {
	case errors.Is(err, ErrNotFound):
		t.out.text(c.Text(msgReceiptNone, nil))
		return
	case err != nil:
		logger.RecordFailure(t.log, logger.FailureStoreRead, err, "op", "get_order", "order_id", sess.LastOrderID)
		t.out.text(c.Text(msgReceiptError, nil))
		return
	}

	address := strings.TrimPrefix(order.Notes, orderNotesPrefix)
	if address == "" {
		address = "N/A"
	}

	var total float64
	for _, it := range order.Items {
		total += it.UnitPrice * float64(it.Quantity)
	}

	t.out.text(c.Text(msgReceipt, map[string]any{
		"Order":   order,
		"Address": address,
		"Date":    order.CreatedAt.Format(receiptDateLayout),
		"Status":  strings.ToUpper(order.Status),
		"Total":   total,
	}))
}

func profileValue(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// swallow ends the turn after a reported failure but keeps conflicts
// visible to the retry loop.
func swallow(err error) error {
	if errors.Is(err, errReported) {
		return nil
	}
	return err
}
