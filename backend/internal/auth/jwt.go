package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const intentIssuer = "agentdesk"

// IntentClaims is the payload of the token attached to every chain executor request,
// letting the executor check that the intent came from this gateway.
type IntentClaims struct {
	IntentID uuid.UUID `json:"intent_id"`
	AgentID  uuid.UUID `json:"agent_id"`
	Kind     string    `json:"kind"` // "trade" or "deployment"
	jwt.RegisteredClaims
}

// IntentSigner signs and verifies intent tokens with a shared HMAC secret.
type IntentSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewIntentSigner returns a signer. Tokens expire after ttl.
func NewIntentSigner(secret string, ttl time.Duration) (*IntentSigner, error) {
	if secret == "" {
		return nil, errors.New("auth: intent signing secret is empty")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &IntentSigner{secret: []byte(secret), ttl: ttl}, nil
}

// Sign creates a token for a single executor call.
func (s *IntentSigner) Sign(intentID, agentID uuid.UUID, kind string) (string, error) {
	now := time.Now()
	claims := &IntentClaims{
		IntentID: intentID,
		AgentID:  agentID,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    intentIssuer,
			Subject:   intentID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign intent %s: %w", intentID, err)
	}
	return signed, nil
}

// Verify validates a token string and returns its claims.
func (s *IntentSigner) Verify(tokenString string) (*IntentClaims, error) {
	claims := &IntentClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(intentIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
