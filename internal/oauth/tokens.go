package oauth

import (
	"crypto/rand"
	"encoding/hex"
)

// Broker tokens and codes are bearer secrets: 32 bytes of entropy,
// hex-encoded. A collision indicates a broken RNG, not contention.

func NewAccessToken() string {
	return "tga_" + generateRandomCode(32)
}

func NewRefreshToken() string {
	return "tgr_" + generateRandomCode(32)
}

func NewBrokerCode() string {
	return generateRandomCode(32)
}

func generateRandomCode(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
