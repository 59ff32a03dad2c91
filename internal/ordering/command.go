package ordering

import "strings"

type CommandKind int

const (
	CmdNone CommandKind = iota
	CmdWelcome
	CmdShowMenu
	CmdShowCart
	CmdCheckout
	CmdPlaceOrder
	CmdAddByName
	CmdAddByID
	CmdRemove
	CmdClearCart
	CmdReceipt
)

func (k CommandKind) String() string {
	switch k {
	case CmdWelcome:
		return "welcome"
	case CmdShowMenu:
		return "show_menu"
	case CmdShowCart:
		return "show_cart"
	case CmdCheckout:
		return "checkout"
	case CmdPlaceOrder:
		return "place_order"
	case CmdAddByName:
		return "add_by_name"
	case CmdAddByID:
		return "add_by_id"
	case CmdRemove:
		return "remove"
	case CmdClearCart:
		return "clear_cart"
	case CmdReceipt:
		return "receipt"
	default:
		return "none"
	}
}

// Command is the parsed form of a text message or button payload.
// Arg carries the item id for CmdAddByID/CmdRemove and the item phrase
// for CmdAddByName.
type Command struct {
	Kind CommandKind
	Arg  string
}

// Button and quick reply payloads.
const (
	PayloadAddPrefix    = "ADD_"
	PayloadRemovePrefix = "REMOVE_"
	PayloadViewCart     = "VIEW_CART"
	PayloadCheckout     = "CHECKOUT"
	PayloadPlaceOrder   = "PLACE_ORDER"
	PayloadMenu         = "MENU"
	PayloadHelp         = "HELP"
	PayloadClearCart    = "CLEAR_CART"
	PayloadGetStarted   = "GET_STARTED"
	PayloadReceipt      = "RECEIPT"
)

func AddPayload(itemID string) string    { return PayloadAddPrefix + itemID }
func RemovePayload(itemID string) string { return PayloadRemovePrefix + itemID }

// NormalizeText trims and case-folds free text the way commands expect it.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseText maps idle-stage free text to a command. Rules are checked in
// order and the first match wins; anything unrecognised gets the welcome.
func ParseText(text string) Command {
	text = NormalizeText(text)

	switch {
	case strings.Contains(text, "menu") || text == "1":
		return Command{Kind: CmdShowMenu}
	case text == "cart" || text == "2":
		return Command{Kind: CmdShowCart}
	case text == "checkout" || text == "3":
		return Command{Kind: CmdCheckout}
	case text == "place order" || text == "placeorder":
		return Command{Kind: CmdPlaceOrder}
	case text == "receipt":
		return Command{Kind: CmdReceipt}
	case strings.HasPrefix(text, "add "):
		return Command{Kind: CmdAddByName, Arg: strings.TrimSpace(strings.TrimPrefix(text, "add "))}
	case text == "clear" || text == "reset":
		return Command{Kind: CmdClearCart}
	default:
		return Command{Kind: CmdWelcome}
	}
}

// ParseAction maps a postback or quick reply payload to a command.
// Unknown payloads yield CmdNone and are ignored.
func ParseAction(payload string) Command {
	payload = strings.TrimSpace(payload)

	switch {
	case strings.HasPrefix(payload, PayloadAddPrefix):
		if id := strings.TrimPrefix(payload, PayloadAddPrefix); id != "" {
			return Command{Kind: CmdAddByID, Arg: id}
		}
	case strings.HasPrefix(payload, PayloadRemovePrefix):
		if id := strings.TrimPrefix(payload, PayloadRemovePrefix); id != "" {
			return Command{Kind: CmdRemove, Arg: id}
		}
	case payload == PayloadViewCart:
		return Command{Kind: CmdShowCart}
	case payload == PayloadCheckout:
		return Command{Kind: CmdCheckout}
	case payload == PayloadPlaceOrder:
		return Command{Kind: CmdPlaceOrder}
	case payload == PayloadMenu:
		return Command{Kind: CmdShowMenu}
	case payload == PayloadHelp, payload == PayloadGetStarted:
		return Command{Kind: CmdWelcome}
	case payload == PayloadClearCart:
		return Command{Kind: CmdClearCart}
	case payload == PayloadReceipt:
		return Command{Kind: CmdReceipt}
	}
	return Command{Kind: CmdNone}
}
