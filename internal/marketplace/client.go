// Package marketplace предоставляет клиент для публикации товаров на маркетплейсе.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
)

// ErrTransient возвращается при временных сбоях публикации: сеть, лимиты,
// ошибки 5xx. Такие попытки можно повторять.
var ErrTransient = errors.New("transient publish failure")

// RejectedError описывает окончательный отказ маркетплейса по конкретному
// товару. Повторять публикацию бессмысленно.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("publish rejected: status %d: %s", e.StatusCode, e.Reason)
}

// Client инкапсулирует HTTP-взаимодействие с API маркетплейса.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент маркетплейса по указанному адресу и токену.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type productRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PriceCents  int64    `json:"price"`
	Type        string   `json:"type"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

type productResponse struct {
	ID string `json:"id"`
}

// nicheCategories — соответствие ниш категориям маркетплейса.
var nicheCategories = map[string]string{
	"Business & Marketing":           "business",
	"Content Creation & Copywriting": "content",
	"E-commerce & Sales":             "ecommerce",
	"Programming & Development":      "development",
	"Personal Productivity":          "productivity",
}

func categoryFor(niche string) string {
	if c, ok := nicheCategories[niche]; ok {
		return c
	}
	return "tools"
}

// Publish создаёт товар на маркетплейсе и возвращает его внешний идентификатор.
func (c *Client) Publish(ctx context.Context, item model.Item) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("%w: client not configured", ErrTransient)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload := productRequest{
		Name:        item.Title,
		Description: item.Body,
		PriceCents:  item.PriceCents,
		Type:        "digital_product",
		Category:    categoryFor(item.Niche),
		Tags:        []string{item.Niche, item.Template, "AI", "Prompts"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal product: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/products", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
		var result productResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if result.ID == "" {
			return "", fmt.Errorf("empty product id in response")
		}
		return result.ID, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)

	default:
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &RejectedError{
			StatusCode: resp.StatusCode,
			Reason:     strings.TrimSpace(string(reason)),
		}
	}
}
