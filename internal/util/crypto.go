package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const cookieKeyInfo = "habilitations console cookie v1"

// DeriveCookieKeys expands secret into a 64-byte HMAC key and a 32-byte
// AES key for the console cookie codec.
func DeriveCookieKeys(secret string) (hashKey, blockKey []byte, err error) {
	if secret == "" {
		return nil, nil, fmt.Errorf("empty cookie secret")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo))
	hashKey = make([]byte, 64)
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(r, hashKey); err != nil {
		return nil, nil, fmt.Errorf("derive hash key: %w", err)
	}
	if _, err := io.ReadFull(r, blockKey); err != nil {
		return nil, nil, fmt.Errorf("derive block key: %w", err)
	}
	return hashKey, blockKey, nil
}
