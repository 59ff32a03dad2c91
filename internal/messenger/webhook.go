package messenger

import (
	"strings"

	"github.com/Vovarama1992/messenger-pos-bot/internal/ordering"
)

const objectPage = "page"

// Payload is the body Messenger POSTs to the webhook.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string  `json:"id"`
	Time      int64   `json:"time"`
	Messaging []Event `json:"messaging"`
	// Standby carries events delivered while another app owns the thread.
	Standby []Event `json:"standby"`
}

type Participant struct {
	ID string `json:"id"`
}

type Event struct {
	Sender    *Participant `json:"sender"`
	Recipient *Participant `json:"recipient"`
	Timestamp int64        `json:"timestamp"`
	Message   *Message     `json:"message"`
	Postback  *Postback    `json:"postback"`
}

type Message struct {
	Mid        string      `json:"mid"`
	Text       string      `json:"text"`
	QuickReply *QuickReply `json:"quick_reply"`
}

type QuickReply struct {
	Payload string `json:"payload"`
}

type Postback struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Events returns the entry's messaging events followed by its standby
// events, in delivery order.
func (e Entry) Events() []Event {
	if len(e.Messaging) == 0 && len(e.Standby) == 0 {
		return nil
	}
	out := make([]Event, 0, len(e.Messaging)+len(e.Standby))
	out = append(out, e.Messaging...)
	return append(out, e.Standby...)
}

// Classify turns an event into dialogue input. ok is false for events
// with no sender or nothing actionable. A quick reply wins over the text
// it was sent with, and text wins over a postback.
func Classify(ev Event) (psid string, in ordering.Input, ok bool) {
	if ev.Sender == nil || ev.Sender.ID == "" {
		return "", ordering.Input{}, false
	}
	psid = ev.Sender.ID

	if m := ev.Message; m != nil {
		if m.QuickReply != nil && m.QuickReply.Payload != "" {
			return psid, ordering.Input{Kind: ordering.InputAction, Payload: m.QuickReply.Payload}, true
		}
		if m.Text != "" {
			return psid, ordering.Input{
				Kind: ordering.InputText,
				Text: ordering.NormalizeText(m.Text),
				Raw:  strings.TrimSpace(m.Text),
			}, true
		}
	}

	if pb := ev.Postback; pb != nil && pb.Payload != "" {
		return psid, ordering.Input{Kind: ordering.InputAction, Payload: pb.Payload}, true
	}

	return psid, ordering.Input{}, false
}
