package agent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Confirmation token failure modes. Handlers collapse all of these into
// one user-facing rejection so the failing check is not leaked.
var (
	ErrInvalidToken          = errors.New("invalid confirm token")
	ErrInvalidTokenSignature = errors.New("invalid confirm token signature")
	ErrTokenExpired          = errors.New("confirm token expired")
	ErrTokenWrongUser        = errors.New("confirm token does not belong to this user")
)

// ConfirmTokenTTL is how long a minted confirmation token stays valid.
// The short window is the only replay defense; tokens are bearer
// capsules with no server-side revocation.
const ConfirmTokenTTL = 10 * time.Minute

// QueuedCall is one not-yet-attempted invocation carried inside a
// confirmation token so a multi-step plan can resume after confirmation.
type QueuedCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ConfirmPayload is the capsule embedded in a confirmation token. All
// pause/resume state lives here; nothing is stored server-side.
type ConfirmPayload struct {
	UserID    string          `json:"userId"`
	Action    string          `json:"action"`
	Args      json.RawMessage `json:"args"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Remaining []QueuedCall    `json:"remainingToolCalls,omitempty"`
}

// TokenCodec mints and verifies confirmation tokens: three dot-joined
// base64url segments (header, payload, HMAC-SHA256 signature).
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec builds a codec signing with the given secret.
func NewTokenCodec(secret []byte) *TokenCodec {
	return &TokenCodec{secret: secret, now: time.Now}
}

var tokenHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"KiddosConfirm"}`))

func (c *TokenCodec) sign(data string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Mint signs the payload, stamping CreatedAt/ExpiresAt.
func (c *TokenCodec) Mint(payload ConfirmPayload) (string, error) {
	now := c.now().UTC()
	payload.CreatedAt = now
	payload.ExpiresAt = now.Add(ConfirmTokenTTL)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling confirm payload: %w", err)
	}
	signed := tokenHeader + "." + base64.RawURLEncoding.EncodeToString(body)
	return signed + "." + c.sign(signed), nil
}

// Verify checks structure, signature, and expiry, returning the
// embedded payload. The caller must separately check that the payload's
// UserID matches the authenticated requester; that authorization check
// lives one layer up.
func (c *TokenCodec) Verify(token string) (*ConfirmPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	signed := parts[0] + "." + parts[1]
	expected := c.sign(signed)
	if !hmac.Equal([]byte(parts[2]), []byte(expected)) {
		return nil, ErrInvalidTokenSignature
	}

	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var payload ConfirmPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if payload.ExpiresAt.IsZero() || c.now().After(payload.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &payload, nil
}
