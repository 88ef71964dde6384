// Package generation предоставляет клиент сервиса генерации черновиков
// и резервный шаблонный генератор.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
)

// ErrUnavailable возвращается, когда сервис генерации недоступен.
var ErrUnavailable = errors.New("generation service unavailable")

// ErrRateLimited возвращается при превышении лимита запросов к сервису генерации.
var ErrRateLimited = errors.New("generation service rate limited")

// Client инкапсулирует HTTP-взаимодействие с сервисом генерации черновиков.
// Сетевые сбои и ответы 5xx ретраятся на транспортном уровне.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type generateRequest struct {
	Niche string `json:"niche"`
	Count int    `json:"count"`
}

// NewClient создаёт клиент сервиса генерации по указанному адресу.
func NewClient(baseURL string, timeout time.Duration, retries int) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.Logger = nil
	// Лимит запросов не ретраится на транспортном уровне: ответ 429
	// должен дойти до вызывающего как ErrRateLimited.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	httpClient := rc.StandardClient()
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Generate запрашивает у сервиса count черновиков для указанной ниши.
// Сервис может вернуть меньше черновиков, чем запрошено.
func (c *Client) Generate(ctx context.Context, niche string, count int) ([]model.Draft, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(generateRequest{Niche: niche, Count: count})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/generate", strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var drafts []model.Draft
	if err := json.NewDecoder(resp.Body).Decode(&drafts); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	for i := range drafts {
		drafts[i].Source = model.DraftSourceService
	}

	return drafts, nil
}
