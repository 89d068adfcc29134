package wa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const defaultRequestTimeout = 30 * time.Second

// Client calls the WhatsApp Cloud (Graph) API for one business phone number.
// It is stateless and safe for concurrent use.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	phoneNumberID string
}

// ClientOption customises Client construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Graph API client. baseURL is the API root including the
// version segment, e.g. "https://graph.facebook.com/v21.0".
func NewClient(baseURL, token, phoneNumberID string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: defaultRequestTimeout},
		baseURL:       baseURL,
		token:         token,
		phoneNumberID: phoneNumberID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendText delivers a text reply to the given user phone number.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	payload := []byte(`{"messaging_product":"whatsapp","recipient_type":"individual","type":"text"}`)
	payload, _ = sjson.SetBytes(payload, "to", to)
	payload, _ = sjson.SetBytes(payload, "text.body", text)

	if _, err := c.postMessages(ctx, payload); err != nil {
		return fmt.Errorf("wa: send text to %s: %w", to, err)
	}
	return nil
}

// MarkAsRead signals a read receipt for a message. Callers treat this as
// best-effort; a failure is worth a log line, nothing more.
func (c *Client) MarkAsRead(ctx context.Context, messageID string) error {
	payload := []byte(`{"messaging_product":"whatsapp","status":"read"}`)
	payload, _ = sjson.SetBytes(payload, "message_id", messageID)

	if _, err := c.postMessages(ctx, payload); err != nil {
		return fmt.Errorf("wa: mark as read %s: %w", messageID, err)
	}
	return nil
}

// SendTypingIndicator shows the "typing..." state to the user. Best-effort,
// like MarkAsRead.
func (c *Client) SendTypingIndicator(ctx context.Context, to string) error {
	payload := []byte(`{"messaging_product":"whatsapp","recipient_type":"individual","type":"reaction","status":"typing"}`)
	payload, _ = sjson.SetBytes(payload, "to", to)

	if _, err := c.postMessages(ctx, payload); err != nil {
		return fmt.Errorf("wa: typing indicator to %s: %w", to, err)
	}
	return nil
}

// DownloadMedia fetches the binary content for a media identifier. The Graph
// API requires two steps: resolve the short-lived download URL, then fetch the
// bytes with the same bearer token. A non-200 at either step is an
// unrecoverable fetch failure.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	meta, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/"+mediaID, nil, "")
	if err != nil {
		return nil, fmt.Errorf("wa: resolve media %s: %w", mediaID, err)
	}
	mediaURL := gjson.GetBytes(meta, "url").String()
	if mediaURL == "" {
		return nil, fmt.Errorf("wa: resolve media %s: response carried no url", mediaID)
	}

	data, err := c.doRequest(ctx, http.MethodGet, mediaURL, nil, "")
	if err != nil {
		return nil, fmt.Errorf("wa: fetch media %s: %w", mediaID, err)
	}
	return data, nil
}

// postMessages POSTs a JSON payload to the phone number's /messages endpoint.
func (c *Client) postMessages(ctx context.Context, payload []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	return c.doRequest(ctx, http.MethodPost, url, payload, "application/json")
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
