package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CommandHandler is called when an operator command is received.
type CommandHandler func(ctx context.Context, command string) string

// telegramUpdate represents a Telegram update from long polling.
type telegramUpdate struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// StartPolling begins long-polling for Telegram commands. Blocks until ctx is
// cancelled. Only messages from the configured chat are handled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	if !t.Enabled() {
		log.Println("[INFO] Telegram disabled, command polling off")
		return
	}
	offset := 0
	client := &http.Client{Timeout: 35 * time.Second, Transport: t.Client.Transport}

	for {
		select {
		case <-ctx.Done():
			log.Println("[INFO] Telegram polling stopped")
			return
		default:
		}

		apiURL := fmt.Sprintf("%s?offset=%d&timeout=%d", t.endpoint("getUpdates"), offset, t.pollTimeout())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			log.Printf("[ERROR] create polling request: %v", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] polling request failed: %v", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			log.Printf("[WARN] read polling response: %v", err)
			continue
		}

		var result struct {
			OK     bool             `json:"ok"`
			Result []telegramUpdate `json:"result"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			log.Printf("[WARN] decode polling response: %v", err)
			continue
		}
		if !result.OK {
			log.Printf("[WARN] getUpdates not ok: %s", string(body))
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		for _, update := range result.Result {
			offset = update.UpdateID + 1
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			if strconv.FormatInt(update.Message.Chat.ID, 10) != t.ChatID {
				log.Printf("[WARN] ignoring command from chat %d", update.Message.Chat.ID)
				continue
			}
			text := strings.TrimSpace(update.Message.Text)
			log.Printf("[INFO] received command: %s", text)
			reply := handler(ctx, text)
			if reply != "" {
				if err := t.Send(ctx, reply); err != nil {
					log.Printf("[ERROR] send reply: %v", err)
				}
			}
		}
	}
}

func (t *TelegramNotifier) pollTimeout() int {
	if t.PollTimeout > 0 {
		return int(t.PollTimeout / time.Second)
	}
	return 30
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
