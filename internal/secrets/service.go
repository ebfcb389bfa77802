package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Параметры argon2id для токенов администратора.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	saltLen      = 16
	scheme       = "argon2id"
)

var ErrMalformedHash = errors.New("malformed token hash")

// NewToken — случайный токен (hex, 32 байта энтропии).
func NewToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// HashToken кодирует токен как "argon2id$<salt hex>$<hash hex>"; в конфиге лежит только хэш.
func HashToken(token string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	h := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("%s$%s$%s", scheme, hex.EncodeToString(salt), hex.EncodeToString(h)), nil
}

// VerifyToken сверяет кандидата с хэшем за постоянное время.
func VerifyToken(encoded, candidate string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != scheme {
		return false, ErrMalformedHash
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil || len(want) == 0 {
		return false, ErrMalformedHash
	}
	got := argon2.IDKey([]byte(candidate), salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
