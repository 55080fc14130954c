package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const pkceVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk-12345"

func pkceChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func TestValidateCodeChallenge(t *testing.T) {
	challenge := pkceChallenge(pkceVerifier)

	assert.NoError(t, ValidateCodeChallenge(challenge, PKCEMethodS256))
	assert.NoError(t, ValidateCodeChallenge(pkceVerifier, PKCEMethodPlain))

	assert.ErrorIs(t, ValidateCodeChallenge("", PKCEMethodS256), ErrInvalidCodeChallenge)
	assert.ErrorIs(t, ValidateCodeChallenge(challenge, ""), ErrInvalidCodeChallenge)
	assert.ErrorIs(t, ValidateCodeChallenge(challenge, "S512"), ErrUnsupportedChallengeMethod)
	assert.ErrorIs(t, ValidateCodeChallenge("too-short", PKCEMethodS256), ErrInvalidCodeChallenge)
	assert.ErrorIs(t, ValidateCodeChallenge(strings.Repeat("a", 129), PKCEMethodS256), ErrInvalidCodeChallenge)
}

func TestVerifyCodeChallengeS256(t *testing.T) {
	challenge := pkceChallenge(pkceVerifier)

	assert.NoError(t, VerifyCodeChallenge(pkceVerifier, challenge, PKCEMethodS256))

	wrong := "completely-different-verifier-of-sufficient-length-1"
	assert.ErrorIs(t, VerifyCodeChallenge(wrong, challenge, PKCEMethodS256), ErrCodeVerificationFailed)

	// The raw verifier is not a valid S256 challenge value.
	assert.ErrorIs(t, VerifyCodeChallenge(pkceVerifier, pkceVerifier, PKCEMethodS256), ErrCodeVerificationFailed)
}

func TestVerifyCodeChallengePlain(t *testing.T) {
	assert.NoError(t, VerifyCodeChallenge(pkceVerifier, pkceVerifier, PKCEMethodPlain))
	assert.ErrorIs(t, VerifyCodeChallenge(pkceVerifier, pkceVerifier+"x", PKCEMethodPlain), ErrCodeVerificationFailed)
}

func TestVerifyCodeChallengeRejectsBadVerifiers(t *testing.T) {
	challenge := pkceChallenge(pkceVerifier)

	assert.ErrorIs(t, VerifyCodeChallenge("", challenge, PKCEMethodS256), ErrCodeVerificationFailed)
	assert.ErrorIs(t, VerifyCodeChallenge("short", challenge, PKCEMethodS256), ErrCodeVerificationFailed)
	assert.ErrorIs(t, VerifyCodeChallenge(strings.Repeat("a", 129), challenge, PKCEMethodS256), ErrCodeVerificationFailed)
	assert.ErrorIs(t, VerifyCodeChallenge(pkceVerifier, challenge, "S512"), ErrUnsupportedChallengeMethod)
}

func TestTokenGeneration(t *testing.T) {
	access := NewAccessToken()
	refresh := NewRefreshToken()
	code := NewBrokerCode()

	assert.True(t, strings.HasPrefix(access, "tga_"))
	assert.True(t, strings.HasPrefix(refresh, "tgr_"))
	assert.Len(t, code, 64)

	// Entropy sanity: consecutive values differ.
	assert.NotEqual(t, access, NewAccessToken())
	assert.NotEqual(t, refresh, NewRefreshToken())
	assert.NotEqual(t, code, NewBrokerCode())
}
