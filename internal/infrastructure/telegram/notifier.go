package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"OutreachEngine/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends batch summaries to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase overrides the bot API host, e.g. for a local proxy.
func (n *Notifier) WithAPIBase(base string, client *http.Client) *Notifier {
	n.apiBase = strings.TrimSuffix(base, "/")
	if client != nil {
		n.client = client
	}
	return n
}

// maxMessageRunes is the Bot API limit for one sendMessage text.
const maxMessageRunes = 4096

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Publish posts a Markdown message to Telegram. Empty text is ignored. Text
// that Telegram cannot parse as Markdown is sent again unformatted.
func (n *Notifier) Publish(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}
	text = truncate(text, maxMessageRunes)

	status, err := n.send(ctx, text, "Markdown")
	if err != nil && status == http.StatusBadRequest {
		_, err = n.send(ctx, text, "")
	}
	return err
}

func (n *Notifier) send(ctx context.Context, text, parseMode string) (int, error) {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	if parseMode != "" {
		form.Set("parse_mode", parseMode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body apiResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body) == nil && body.Description != "" {
			return resp.StatusCode, fmt.Errorf("telegram error: %s: %s", resp.Status, body.Description)
		}
		return resp.StatusCode, fmt.Errorf("telegram error: %s", resp.Status)
	}
	return resp.StatusCode, nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
