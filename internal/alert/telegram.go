package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	httpclient "liquidity_engine/pkg/http"
)

const telegramAPI = "https://api.telegram.org"

type TelegramChannel struct {
	botToken string
	chatID   string
	client   *httpclient.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return newTelegramChannel(telegramAPI, botToken, chatID)
}

func newTelegramChannel(apiBase, botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		// The token is part of the base URL so it never appears in span names
		client: httpclient.NewClient(httpclient.Options{
			Name:    "telegram",
			BaseURL: apiBase + "/bot" + botToken,
			Timeout: 5 * time.Second,
		}),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert AlertPayload) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	icon := "ℹ️"
	switch alert.Level {
	case Warning:
		icon = "⚠️"
	case Error:
		icon = "❌"
	case Critical:
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s] %s*\n\n%s", icon, alert.Level, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, alert.Fields[k])
		}
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       b.String(),
		"parse_mode": "Markdown",
	}

	if _, err := t.client.Post(ctx, "/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram api: %w", err)
	}
	return nil
}
