package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier sends best-effort trade notifications to a Telegram chat. A
// notifier without token or chat id is a no-op.
type Notifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || text == "" {
		return nil
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)

	raw, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: sendMessage returned %d", resp.StatusCode)
	}
	return nil
}

// NotifyOrderPlaced formats a fill notification for a submitted order.
func (n *Notifier) NotifyOrderPlaced(ctx context.Context, identity, stockCode, side string, price float64, amount int) error {
	return n.Notify(ctx, fmt.Sprintf("[%s] order placed: %s %s %d @ %.3f", identity, side, stockCode, amount, price))
}

func (n *Notifier) NotifyOrderCanceled(ctx context.Context, identity, orderRef string) error {
	return n.Notify(ctx, fmt.Sprintf("[%s] order canceled: %s", identity, orderRef))
}
