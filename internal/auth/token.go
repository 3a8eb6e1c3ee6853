package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var errTokenRequired = errors.New("token required")

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// fallbackToken produces a unique but predictable token for hosts where the
// secure random source is unavailable.
func fallbackToken() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16), nil
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// hashToken derives a stable, non-reversible key from a credential so raw
// values never reach limiter storage.
func hashToken(token string) (string, error) {
	if token == "" {
		return "", errTokenRequired
	}
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:]), nil
}
