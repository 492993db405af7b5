package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ManagerProofVerifier validates a manager's credential proof for override
// unlocks. The default implementation accepts a short-lived HS256 token
// minted by the main platform after the manager re-authenticates; deployments
// with their own identity service can swap in another implementation.
type ManagerProofVerifier struct {
	secret   []byte
	audience string
}

// ManagerClaims are the claims carried by a manager override token
type ManagerClaims struct {
	ManagerID string `json:"manager_id"`
	jwt.RegisteredClaims
}

// NewManagerProofVerifier creates a verifier for the given signing secret
func NewManagerProofVerifier(secret, audience string) *ManagerProofVerifier {
	return &ManagerProofVerifier{secret: []byte(secret), audience: audience}
}

// Verify checks the proof token was signed with the shared secret, has not
// expired, targets this service and names the expected manager
func (v *ManagerProofVerifier) Verify(proof, managerID string) error {
	claims := &ManagerClaims{}

	token, err := jwt.ParseWithClaims(proof, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithAudience(v.audience), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid manager proof: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid manager proof")
	}

	if claims.ManagerID != managerID {
		return fmt.Errorf("manager proof subject mismatch")
	}
	return nil
}

// MintManagerProof issues a proof token. Exists for the platform side and for
// tests; the lockout service itself only verifies.
func MintManagerProof(secret, audience, managerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &ManagerClaims{
		ManagerID: managerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   managerID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
