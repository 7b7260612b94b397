package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTelegramURL = "https://api.telegram.org"

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
	logger   *zap.Logger
}

// NewTelegramNotifier sends alerts through the Bot API at baseURL.
func NewTelegramNotifier(baseURL, botToken, chatID string, timeout time.Duration, logger *zap.Logger) *TelegramNotifier {
	if baseURL == "" {
		baseURL = defaultTelegramURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		baseURL:  strings.TrimRight(baseURL, "/"),
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func levelEmoji(l Level) string {
	switch l {
	case LevelWarning:
		return "⚠️"
	case LevelCritical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

// Send posts alert as a MarkdownV2 message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("%s *%s*\n\n%s", levelEmoji(alert.Level), escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))

	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	t.logger.Debug("telegram alert sent", zap.String("title", alert.Title))
	return nil
}

var markdownSpecials = "_*[]()~`>#+-=|{}.!\\"

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
