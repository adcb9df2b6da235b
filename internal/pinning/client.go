// Package pinning предоставляет клиент внешнего шлюза закрепления метаданных.
//
// Сам шлюз (IPFS-совместимый сервис наподобие Pinata) — внешний участник:
// реестр только отправляет снимок метаданных кампании и сохраняет
// возвращённый идентификатор содержимого.
package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие со шлюзом закрепления метаданных.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// CampaignMetadata описывает закрепляемый снимок метаданных кампании.
type CampaignMetadata struct {
	ID          int64  `json:"id"`
	Creator     string `json:"creator"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Story       string `json:"story"`
	Location    string `json:"location"`
	ImageURL    string `json:"image_url"`
	Category    string `json:"category"`
	Deadline    string `json:"deadline"`
}

type pinResponse struct {
	CID string `json:"cid"`
}

// NewClient создаёт HTTP-клиент для обращения к шлюзу по указанному адресу.
// Временные сбои шлюза ретраятся средствами retryablehttp.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// PinCampaign закрепляет метаданные кампании и возвращает идентификатор содержимого.
func (c *Client) PinCampaign(ctx context.Context, meta CampaignMetadata) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("pinning client is not configured")
	}

	body, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	url := c.baseURL + "/api/v1/pins"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("pin request: unexpected status %d", resp.StatusCode)
	}

	var pr pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if pr.CID == "" {
		return "", fmt.Errorf("empty cid in response")
	}

	return pr.CID, nil
}
