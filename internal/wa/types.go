// Package wa implements the WhatsApp Cloud API integration: parsing inbound
// webhook payloads into typed messages and delivering outbound calls (send
// text, mark-as-read, typing indicator, media download) against the Graph API.
package wa

import "github.com/tidwall/gjson"

// Inbound message types as delivered by the Cloud API.
const (
	TypeText     = "text"
	TypeAudio    = "audio"
	TypeImage    = "image"
	TypeDocument = "document"
	TypeSticker  = "sticker"
	TypeLocation = "location"
	TypeContacts = "contacts"
)

// InboundMessage is the normalized representation of one provider-delivered
// message notification. Immutable once constructed.
type InboundMessage struct {
	// From is the sender's phone number (the session key).
	From string

	// MessageID is the provider's message identifier, used for read receipts.
	MessageID string

	// Type is the provider message type (text, audio, image, ...).
	Type string

	// Text is the message body for text messages.
	Text string

	// MediaID identifies downloadable media for audio/image/document messages.
	MediaID string

	// Caption is the optional caption on image/document messages.
	Caption string
}

// ParseWebhook navigates the nested webhook envelope and returns the first
// message object as a typed InboundMessage. The second return is false when
// the payload carries no message (status callbacks, malformed bodies); such
// payloads are acknowledged and ignored upstream.
func ParseWebhook(body []byte) (*InboundMessage, bool) {
	if !gjson.ValidBytes(body) {
		return nil, false
	}
	message := gjson.GetBytes(body, "entry.0.changes.0.value.messages.0")
	if !message.Exists() {
		return nil, false
	}

	msg := &InboundMessage{
		From:      message.Get("from").String(),
		MessageID: message.Get("id").String(),
		Type:      message.Get("type").String(),
	}
	if msg.From == "" || msg.Type == "" {
		return nil, false
	}

	switch msg.Type {
	case TypeText:
		msg.Text = message.Get("text.body").String()
	case TypeAudio:
		msg.MediaID = message.Get("audio.id").String()
	case TypeImage:
		msg.MediaID = message.Get("image.id").String()
		msg.Caption = message.Get("image.caption").String()
	case TypeDocument:
		msg.MediaID = message.Get("document.id").String()
		msg.Caption = message.Get("document.caption").String()
	}
	return msg, true
}
