package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veridianlabs/nftmarket/libs/apikey"
	"github.com/veridianlabs/nftmarket/libs/auth"
)

const (
	DemoAccount   = "alice.near"
	BuyerAccount  = "bob.near"
	OwnerAccount  = "market.operator"
	Collection    = "collection.near"
	PaymentSystem = "payments.system"
)

func GenerateJWT(account string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Roles: []string{"user"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "nftmarket-gateway",
			Subject:   account,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func GenerateAPIKey(env string) (string, string, string, error) {
	return apikey.Generate(env)
}
