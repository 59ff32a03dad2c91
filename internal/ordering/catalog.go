package ordering

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var defaultCatalogYAML []byte

const (
	msgWelcome          = "welcome"
	msgUnavailable      = "unavailable"
	msgBusy             = "busy"
	msgStoreError       = "store_error"
	msgSessionError     = "session_error"
	msgAskName          = "ask_name"
	msgAskAddress       = "ask_address"
	msgNameSaved        = "name_saved"
	msgAddressSaved     = "address_saved"
	msgMenuError        = "menu_error"
	msgMenuEmpty        = "menu_empty"
	msgMenuActions      = "menu_actions"
	msgMenuItemTitle    = "menu_item_title"
	msgMenuItemSubtitle = "menu_item_subtitle"
	msgItemAdded        = "item_added"
	msgItemUnknown      = "item_unknown"
	msgItemGone         = "item_gone"
	msgItemRemoved      = "item_removed"
	msgCartEmpty        = "cart_empty"
	msgCartCleared      = "cart_cleared"
	msgCart             = "cart"
	msgCheckoutEmpty    = "checkout_empty"
	msgOrderError       = "order_error"
	msgOrderPlaced      = "order_placed"
	msgReceiptNone      = "receipt_none"
	msgReceiptError     = "receipt_error"
	msgReceipt          = "receipt"
)

var requiredMessages = []string{
	msgWelcome, msgUnavailable, msgBusy, msgStoreError, msgSessionError,
	msgAskName, msgAskAddress, msgNameSaved, msgAddressSaved,
	msgMenuError, msgMenuEmpty, msgMenuActions, msgMenuItemTitle, msgMenuItemSubtitle,
	msgItemAdded, msgItemUnknown, msgItemGone, msgItemRemoved,
	msgCartEmpty, msgCartCleared, msgCart, msgCheckoutEmpty,
	msgOrderError, msgOrderPlaced, msgReceiptNone, msgReceiptError, msgReceipt,
}

const (
	quickDefault   = "default"
	quickAfterMenu = "after_menu"
	quickCart      = "cart"
)

var requiredQuickReplies = []string{quickDefault, quickAfterMenu, quickCart}

type catalogFile struct {
	Currency     string                       `yaml:"currency"`
	Messages     map[string]string            `yaml:"messages"`
	QuickReplies map[string][]quickReplyEntry `yaml:"quick_replies"`
}

type quickReplyEntry struct {
	Title   string `yaml:"title"`
	Payload string `yaml:"payload"`
}

// Catalog renders the bot's reply copy.
type Catalog struct {
	currency  string
	templates map[string]*template.Template
	quick     map[string][]QuickReply
}

// DefaultCatalog returns the catalog embedded in the binary.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("ordering: embedded catalog: %v", err))
	}
	return c
}

// LoadCatalog parses a YAML catalog and checks every required key is present.
func LoadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		currency:  f.Currency,
		templates: make(map[string]*template.Template, len(f.Messages)),
		quick:     make(map[string][]QuickReply, len(f.QuickReplies)),
	}

	funcs := template.FuncMap{
		"money":     c.Money,
		"lineTotal": func(it OrderItem) float64 { return it.UnitPrice * float64(it.Quantity) },
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	for key, text := range f.Messages {
		tmpl, err := template.New(key).Funcs(funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("message %q: %w", key, err)
		}
		c.templates[key] = tmpl
	}

	for set, entries := range f.QuickReplies {
		replies := make([]QuickReply, 0, len(entries))
		for _, e := range entries {
			replies = append(replies, QuickReply{Title: e.Title, Payload: e.Payload})
		}
		c.quick[set] = replies
	}

	var missing []string
	for _, key := range requiredMessages {
		if _, ok := c.templates[key]; !ok {
			missing = append(missing, key)
		}
	}
	for _, set := range requiredQuickReplies {
		if len(c.quick[set]) == 0 {
			missing = append(missing, "quick_replies."+set)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("catalog missing: %s", strings.Join(missing, ", "))
	}

	return c, nil
}

// Money formats an amount with the catalog currency and two decimals.
func (c *Catalog) Money(amount float64) string {
	return fmt.Sprintf("%s%.2f", c.currency, amount)
}

// Text renders message key with data. Rendering problems fall back to the
// raw key so a reply is still sent.
func (c *Catalog) Text(key string, data any) string {
	tmpl, ok := c.templates[key]
	if !ok {
		return key
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return key
	}
	return buf.String()
}

// QuickReplies returns a copy of the named quick reply set.
func (c *Catalog) QuickReplies(set string) []QuickReply {
	src := c.quick[set]
	out := make([]QuickReply, len(src))
	copy(out, src)
	return out
}
