package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPIssuer calls the external token service over HTTP.
type HTTPIssuer struct {
	URL        string
	AppID      string
	ServiceKey string

	Client *http.Client
	clock  func() time.Time
}

func NewHTTPIssuer(url, appID, serviceKey string) *HTTPIssuer {
	return &HTTPIssuer{
		URL:        url,
		AppID:      appID,
		ServiceKey: serviceKey,
		Client:     &http.Client{Timeout: 5 * time.Second},
		clock:      time.Now,
	}
}

type tokenRequest struct {
	ChannelName   string `json:"channelName"`
	UID           string `json:"uid"`
	Role          string `json:"role"`
	ExpireSeconds int64  `json:"expireSeconds"`
}

type tokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	AppID   string `json:"appId"`
	Message string `json:"message"`
}

func (i *HTTPIssuer) Issue(ctx context.Context, channel, uid string, role Role, ttl time.Duration) (Credential, error) {
	if channel == "" || uid == "" {
		return Credential{}, errors.New("channel and uid are required")
	}
	if !validRole(role) {
		return Credential{}, fmt.Errorf("unsupported role %q", role)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	body, err := json.Marshal(tokenRequest{
		ChannelName:   channel,
		UID:           uid,
		Role:          string(role),
		ExpireSeconds: int64(ttl.Seconds()),
	})
	if err != nil {
		return Credential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.URL, bytes.NewReader(body))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if i.ServiceKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.ServiceKey)
	}

	resp, err := i.Client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Credential{}, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("token service rejected request: status %d", resp.StatusCode)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Credential{}, fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}
	if !out.Success || out.Token == "" {
		return Credential{}, fmt.Errorf("%w: %s", ErrUnavailable, out.Message)
	}

	appID := out.AppID
	if appID == "" {
		appID = i.AppID
	}

	return Credential{
		Token:     out.Token,
		AppID:     appID,
		Channel:   channel,
		UID:       uid,
		Role:      role,
		ExpiresAt: i.clock().Add(ttl),
	}, nil
}
