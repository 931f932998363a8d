package review

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// TokenClaims are the JWT claims of a review token. The token authorizes one
// reviewer to submit a decision for one review item.
type TokenClaims struct {
	ReviewID   string `json:"review_id"`
	ReviewerID string `json:"reviewer_id"`
	jwt.RegisteredClaims
}

// TokenService issues and validates review tokens.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
}

func NewTokenService(signingKey string, ttl time.Duration) *TokenService {
	return &TokenService{signingKey: []byte(signingKey), ttl: ttl}
}

// Issue creates a signed token granting one reviewer access to one review.
func (s *TokenService) Issue(reviewID id.ReviewID, reviewer id.ReviewerID) (string, error) {
	if reviewID.IsNil() {
		return "", dErrors.New(dErrors.CodeValidation, "review id is required")
	}
	if reviewer.IsEmpty() {
		return "", dErrors.New(dErrors.CodeValidation, "reviewer id is required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		ReviewID:   reviewID.String(),
		ReviewerID: string(reviewer),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "fuseid",
			Audience:  []string{"fuseid-review"},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses a token and returns the review and reviewer it grants.
func (s *TokenService) Validate(tokenString string) (id.ReviewID, id.ReviewerID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.ReviewID{}, "", dErrors.New(dErrors.CodeUnauthorized, "review token has expired")
		}
		return id.ReviewID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid review token")
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return id.ReviewID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid review token claims")
	}
	reviewID, err := id.ParseReviewID(claims.ReviewID)
	if err != nil {
		return id.ReviewID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid review token claims")
	}
	if claims.ReviewerID == "" {
		return id.ReviewID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid review token claims")
	}
	return reviewID, id.ReviewerID(claims.ReviewerID), nil
}
