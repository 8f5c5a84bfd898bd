// Package client is the Go consumer of the PIN API: it is what a trade
// detail view talks to when generating, submitting, or polling a PIN.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/swappo/pin-server-go/internal/errors"
	"github.com/swappo/pin-server-go/internal/service"
)

const requestTimeout = 5 * time.Second

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// GeneratedPin is the owner's view of a freshly issued code.
type GeneratedPin struct {
	Code        string    `json:"code"`
	Generation  int       `json:"generation"`
	GeneratedAt time.Time `json:"generatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// PinDetail mirrors the pinStatus object of the status endpoint.
type PinDetail struct {
	PinCode     string     `json:"pinCode,omitempty"`
	IsVerified  bool       `json:"isVerified"`
	IsExpired   bool       `json:"isExpired"`
	Generation  int        `json:"generation"`
	GeneratedAt time.Time  `json:"generatedAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
}

// PinStatus is the role-scoped projection returned by the status endpoint.
type PinStatus struct {
	UserRole    string     `json:"userRole"`
	TradeStatus string     `json:"tradeStatus"`
	PinExists   bool       `json:"pinExists"`
	Pin         *PinDetail `json:"pinStatus"`
}

func (c *Client) GeneratePin(ctx context.Context, tradeID string) (*GeneratedPin, error) {
	var resp struct {
		Pin GeneratedPin `json:"pin"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/pins/generate/%s", tradeID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Pin, nil
}

// VerifyPin submits a code for the trade. The input may carry display
// whitespace ("482 917"); it is normalized before it goes on the wire.
func (c *Client) VerifyPin(ctx context.Context, tradeID, pinCode string) (time.Time, error) {
	code, err := service.NormalizePinCode(pinCode)
	if err != nil {
		return time.Time{}, err
	}

	var resp struct {
		VerifiedAt time.Time `json:"verifiedAt"`
	}
	body := map[string]string{"pinCode": code}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/pins/verify/%s", tradeID), body, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.VerifiedAt, nil
}

func (c *Client) PinStatus(ctx context.Context, tradeID string) (*PinStatus, error) {
	var resp PinStatus
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/pins/status/%s", tradeID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeError turns the server's structured error body back into a typed
// AppError so callers can branch on the taxonomy instead of HTTP codes.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return apperrors.Internal(fmt.Sprintf("unexpected response status %d", resp.StatusCode))
	}
	return apperrors.New(apperrors.ErrorCode(body.Code), body.Error)
}
