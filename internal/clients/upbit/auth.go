package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signer builds the bearer token for private endpoints
type signer struct {
	accessKey string
	secretKey []byte
	nonce     func() string
}

func newSigner(accessKey, secretKey string) *signer {
	return &signer{
		accessKey: accessKey,
		secretKey: []byte(secretKey),
		nonce:     func() string { return uuid.NewString() },
	}
}

// token returns an HS256 JWT. When params is non-empty the token carries
// the SHA512 hash of the unescaped query string.
func (s *signer) token(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": s.accessKey,
		"nonce":      s.nonce(),
	}

	if len(params) > 0 {
		claims["query_hash"] = queryHash(params)
		claims["query_hash_alg"] = "SHA512"
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign request token: %w", err)
	}
	return "Bearer " + signed, nil
}

// queryHash hashes params in sorted key order, matching how the request
// body is serialized
func queryHash(params url.Values) string {
	raw, err := url.QueryUnescape(params.Encode())
	if err != nil {
		raw = params.Encode()
	}
	sum := sha512.Sum512([]byte(raw))
	return hex.EncodeToString(sum[:])
}
