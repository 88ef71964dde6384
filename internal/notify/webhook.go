// Package notify отправляет сводки циклов во внешний вебхук оператора.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
)

// Webhook отправляет сводки циклов одним POST-запросом. Ошибки отправки
// возвращаются вызывающему, который их логирует и не пробрасывает дальше.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook создаёт отправитель уведомлений. Пустой URL отключает отправку.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type notifyPayload struct {
	Content string             `json:"content"`
	Summary model.CycleSummary `json:"summary"`
}

// Notify отправляет сводку цикла. Для ненастроенного вебхука — no-op.
func (w *Webhook) Notify(ctx context.Context, summary model.CycleSummary) error {
	if w == nil || w.url == "" {
		return nil
	}

	payload := notifyPayload{
		Content: fmt.Sprintf("cycle finished: generated=%d rejected=%d published=%d failed=%d skipped=%d",
			summary.Generated, summary.Rejected, summary.Published, summary.Failed, summary.Skipped),
		Summary: summary,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notification status: %d", resp.StatusCode)
	}

	return nil
}
