package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"OutreachEngine/internal/config"
	"OutreachEngine/internal/ports"
)

// APIChannel posts messages to an HTTP transactional-mail API.
type APIChannel struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Channel = (*APIChannel)(nil)

// NewAPIChannel creates a reusable HTTP channel.
func NewAPIChannel(cfg config.APIConfig) *APIChannel {
	return &APIChannel{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type apiAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type apiMessage struct {
	From    apiAddress   `json:"from"`
	To      []apiAddress `json:"to"`
	Subject string       `json:"subject"`
	Text    string       `json:"text"`
}

// Send submits env and returns the provider message id.
func (c *APIChannel) Send(ctx context.Context, env ports.Envelope) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("mail api channel misconfigured")
	}

	payload := apiMessage{
		From:    apiAddress{Email: env.From, Name: env.FromName},
		To:      []apiAddress{{Email: env.To}},
		Subject: env.Subject,
		Text:    env.Body,
	}

	var resp struct {
		ID        string `json:"id"`
		MessageID string `json:"messageId"`
	}
	if err := c.post(ctx, payload, &resp); err != nil {
		return "", err
	}

	if resp.ID != "" {
		return resp.ID, nil
	}
	return resp.MessageID, nil
}

func (c *APIChannel) post(ctx context.Context, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
