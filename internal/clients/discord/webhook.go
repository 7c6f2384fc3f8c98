package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradenotify/internal/retry"
)

// webhookPayload is the message body posted to a webhook URL.
type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// webhookResponse is the subset of the created-message response we keep.
type webhookResponse struct {
	ID string `json:"id"`
}

// Channel is a single Discord webhook destination.
type Channel struct {
	name       string
	webhookURL string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewChannel creates a webhook channel. A channel with an empty or
// non-HTTPS URL is disabled and silently drops messages.
func NewChannel(name, webhookURL string, timeout time.Duration, log zerolog.Logger) *Channel {
	return &Channel{
		name:       name,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("client", "discord").Str("channel", name).Logger(),
	}
}

// Enabled reports whether this channel has a usable webhook URL.
func (c *Channel) Enabled() bool {
	return strings.HasPrefix(c.webhookURL, "https://")
}

// Send posts an embed with optional content and returns the Discord
// message ID of the created message.
func (c *Channel) Send(ctx context.Context, content string, embed Embed) (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	body, err := json.Marshal(webhookPayload{Content: content, Embeds: []Embed{embed}})
	if err != nil {
		return "", retry.Fatal(fmt.Errorf("failed to encode webhook payload: %w", err))
	}

	// wait=true makes Discord return the created message so we can
	// store its ID with the posting record.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL+"?wait=true", bytes.NewReader(body))
	if err != nil {
		return "", retry.Fatal(fmt.Errorf("failed to build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read webhook response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized:
		return "", retry.Fatal(fmt.Errorf("webhook rejected (status %d): %s", resp.StatusCode, respBody))
	default:
		return "", fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, respBody)
	}

	var msg webhookResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &msg); err != nil {
			c.log.Debug().Err(err).Msg("Webhook response was not a message object")
		}
	}

	c.log.Debug().Str("message_id", msg.ID).Msg("Posted webhook message")
	return msg.ID, nil
}

// Notifier fans a trade embed out to the configured channels.
type Notifier struct {
	channels []*Channel
	roleID   string
	log      zerolog.Logger
}

// NewNotifier creates a notifier over the given channels.
func NewNotifier(channels []*Channel, roleID string, log zerolog.Logger) *Notifier {
	return &Notifier{
		channels: channels,
		roleID:   roleID,
		log:      log.With().Str("client", "discord").Logger(),
	}
}

// RoleID returns the configured mention role.
func (n *Notifier) RoleID() string {
	return n.roleID
}

// SendToAll posts the embed to every enabled channel and returns the
// message ID from the first successful post. All enabled channels must
// succeed for the send to count as delivered.
func (n *Notifier) SendToAll(ctx context.Context, content string, embed Embed) (string, error) {
	messageID := ""
	sent := 0
	for _, ch := range n.channels {
		if !ch.Enabled() {
			continue
		}
		id, err := ch.Send(ctx, content, embed)
		if err != nil {
			return "", fmt.Errorf("channel %s: %w", ch.name, err)
		}
		if messageID == "" {
			messageID = id
		}
		sent++
	}
	if sent == 0 {
		return "", fmt.Errorf("no Discord channels enabled")
	}
	return messageID, nil
}
