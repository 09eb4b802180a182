package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const discordTimeout = 5 * time.Second

// DiscordSender posts the event message to a Discord webhook.
type DiscordSender struct {
	URL    string
	Client *http.Client
}

func (s *DiscordSender) Name() string { return "discord" }

func (s *DiscordSender) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(map[string]string{"content": e.Message()})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, discordTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
