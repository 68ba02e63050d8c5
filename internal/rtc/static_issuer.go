package rtc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// StaticIssuer signs deterministic local tokens. It exists for local/dev
// environments and tests where the external token service is not reachable.
// Tokens are NOT accepted by any real transport.
type StaticIssuer struct {
	AppID string
	Key   []byte

	clock func() time.Time
}

func NewStaticIssuer(appID, key string) *StaticIssuer {
	return &StaticIssuer{AppID: appID, Key: []byte(key), clock: time.Now}
}

func (s *StaticIssuer) Issue(ctx context.Context, channel, uid string, role Role, ttl time.Duration) (Credential, error) {
	if channel == "" || uid == "" {
		return Credential{}, errors.New("channel and uid are required")
	}
	if !validRole(role) {
		return Credential{}, fmt.Errorf("unsupported role %q", role)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	exp := s.clock().Add(ttl)
	payload := fmt.Sprintf("%s:%s:%s:%d", channel, uid, role, exp.Unix())

	mac := hmac.New(sha256.New, s.Key)
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return Credential{
		Token:     payload + "." + sig,
		AppID:     s.AppID,
		Channel:   channel,
		UID:       uid,
		Role:      role,
		ExpiresAt: exp,
	}, nil
}
