package wa

import "testing"

const textEnvelope = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "123",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [{
          "from": "573001112233",
          "id": "wamid.ABC",
          "timestamp": "1700000000",
          "type": "text",
          "text": {"body": "¿Cuánto cuesta el servicio?"}
        }]
      }
    }]
  }]
}`

const statusEnvelope = `{
  "entry": [{
    "changes": [{
      "value": {
        "statuses": [{"id": "wamid.ABC", "status": "delivered"}]
      }
    }]
  }]
}`

func TestParseWebhookText(t *testing.T) {
	msg, ok := ParseWebhook([]byte(textEnvelope))
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.From != "573001112233" {
		t.Errorf("From = %q", msg.From)
	}
	if msg.MessageID != "wamid.ABC" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.Type != TypeText {
		t.Errorf("Type = %q", msg.Type)
	}
	if msg.Text != "¿Cuánto cuesta el servicio?" {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestParseWebhookAudio(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"57300","id":"wamid.X","type":"audio","audio":{"id":"media-9","mime_type":"audio/ogg; codecs=opus"}}]}}]}]}`
	msg, ok := ParseWebhook([]byte(body))
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Type != TypeAudio || msg.MediaID != "media-9" {
		t.Errorf("got %+v", msg)
	}
}

func TestParseWebhookImageCaption(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"57300","id":"wamid.Y","type":"image","image":{"id":"media-1","caption":"mi factura"}}]}}]}]}`
	msg, ok := ParseWebhook([]byte(body))
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Caption != "mi factura" || msg.MediaID != "media-1" {
		t.Errorf("got %+v", msg)
	}
}

func TestParseWebhookNoMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"status callback", statusEnvelope},
		{"empty object", `{}`},
		{"empty body", ``},
		{"malformed json", `{"entry": [`},
		{"message missing from", `{"entry":[{"changes":[{"value":{"messages":[{"id":"wamid.Z","type":"text"}]}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg, ok := ParseWebhook([]byte(tt.body)); ok {
				t.Errorf("expected no message, got %+v", msg)
			}
		})
	}
}
