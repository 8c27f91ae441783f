// Package auth issues and verifies record capability tokens: HS256 JWTs that
// bind an anonymous client to the PhotoRecord it uploaded.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the registered claims plus the bound RecordID.
type Claims struct {
	jwt.RegisteredClaims
	RecordID string
}

func GenerateToken(recordID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		RecordID: recordID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetRecordIDFromToken validates tokenString and returns its RecordID claim.
// Expired tokens yield common.ErrTokenExpired, every other failure
// common.ErrInvalidToken.
func GetRecordIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.RecordID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.RecordID, nil
}
