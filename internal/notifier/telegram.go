package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"EpochKeeper/internal/epoch"
	"EpochKeeper/internal/model"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramNotifier sends operator alerts via the Telegram Bot API. Without a
// token or chat id it only logs, so a keeper can run without Telegram.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	Client   *http.Client
	// APIBase is the Bot API root, overridable for tests.
	APIBase string
	// MaxRetries and RetryBase control SendWithRetry for alerts.
	MaxRetries int
	RetryBase  time.Duration
	// PollTimeout is the getUpdates long-poll window.
	PollTimeout time.Duration
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		APIBase:    defaultAPIBase,
		MaxRetries: 2,
		RetryBase:  time.Second,
	}
}

// Enabled reports whether messages actually leave the process.
func (t *TelegramNotifier) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

func (t *TelegramNotifier) endpoint(method string) string {
	base := t.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	return fmt.Sprintf("%s/bot%s/%s", base, t.BotToken, method)
}

// Send sends a message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		log.Printf("[INFO] telegram disabled, message:\n%s", text)
		return nil
	}
	payload := map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	base := t.RetryBase
	if base <= 0 {
		base = time.Second
	}
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := t.Send(ctx, text)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == maxRetries {
			break
		}
		backoff := base << uint(i)
		log.Printf("[WARN] Telegram send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}

func (t *TelegramNotifier) alert(ctx context.Context, text string) {
	if err := t.SendWithRetry(ctx, text, t.MaxRetries); err != nil {
		log.Printf("[ERROR] send alert: %v", err)
	}
}

// Settled reports an attempt that wrote financial state to the ledger.
func (t *TelegramNotifier) Settled(ctx context.Context, pool model.Pool, s model.Settlement) {
	t.alert(ctx, FormatSettlement(pool, s))
}

// Halted reports a pool that now waits for an operator.
func (t *TelegramNotifier) Halted(ctx context.Context, pool model.Pool, h epoch.Halt) {
	t.alert(ctx, FormatHalt(pool, h))
}

// Failed reports an attempt abandoned on an error that did not halt the pool.
func (t *TelegramNotifier) Failed(ctx context.Context, pool model.Pool, err error) {
	t.alert(ctx, FormatFailure(pool, err))
}
