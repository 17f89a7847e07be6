// Package member предоставляет клиент для внешнего сервиса участников и их кредитов.
package member

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/live-auction/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом участников.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type profileResponse struct {
	Nickname     string `json:"nickname"`
	ProfileImage string `json:"profileImage"`
	Credit       int64  `json:"credit"`
}

type deductRequest struct {
	Amount int64 `json:"amount"`
}

// NewClient создаёт HTTP-клиент для обращения к сервису участников по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) url(format string, args ...any) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("%w: member client not configured", model.ErrUpstream)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + fmt.Sprintf(format, args...), nil
}

// FetchMember запрашивает профиль участника вместе с текущим остатком кредитов.
func (c *Client) FetchMember(ctx context.Context, memberID int64) (*model.Member, error) {
	url, err := c.url("/api/consumers/%d/auction", memberID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch member: %v", model.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, model.ErrMemberNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch member: unexpected status %d", model.ErrUpstream, resp.StatusCode)
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode member: %v", model.ErrUpstream, err)
	}

	return &model.Member{
		ID:           memberID,
		Nickname:     body.Nickname,
		ProfileImage: body.ProfileImage,
		Credit:       body.Credit,
	}, nil
}

// DebitCredit списывает amount кредитов у участника.
func (c *Client) DebitCredit(ctx context.Context, memberID, amount int64) error {
	url, err := c.url("/api/consumers/%d/credit/deduct", memberID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(deductRequest{Amount: amount})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: debit credit: %v", model.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: debit credit: unexpected status %d", model.ErrUpstream, resp.StatusCode)
	}

	return nil
}
