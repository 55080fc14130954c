package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

var (
	ErrInvalidCodeChallenge       = errors.New("invalid code challenge")
	ErrUnsupportedChallengeMethod = errors.New("unsupported code challenge method")
	ErrCodeVerificationFailed     = errors.New("code verification failed")
)

// ValidateCodeChallenge validates the PKCE code challenge parameters
func ValidateCodeChallenge(codeChallenge, codeChallengeMethod string) error {
	if codeChallenge == "" {
		return fmt.Errorf("%w: code_challenge is required", ErrInvalidCodeChallenge)
	}

	if codeChallengeMethod == "" {
		return fmt.Errorf("%w: code_challenge_method is required", ErrInvalidCodeChallenge)
	}

	if codeChallengeMethod != PKCEMethodPlain && codeChallengeMethod != PKCEMethodS256 {
		return fmt.Errorf("%w: %s", ErrUnsupportedChallengeMethod, codeChallengeMethod)
	}

	if len(codeChallenge) < 43 || len(codeChallenge) > 128 {
		return fmt.Errorf("%w: invalid code_challenge length", ErrInvalidCodeChallenge)
	}

	return nil
}

// VerifyCodeChallenge verifies the code verifier against the stored code challenge
func VerifyCodeChallenge(codeVerifier, codeChallenge, codeChallengeMethod string) error {
	if codeVerifier == "" {
		return fmt.Errorf("%w: code_verifier is required", ErrCodeVerificationFailed)
	}

	// Verify code verifier length (43-128 characters, RFC 7636)
	if len(codeVerifier) < 43 || len(codeVerifier) > 128 {
		return fmt.Errorf("%w: invalid code_verifier length", ErrCodeVerificationFailed)
	}

	switch codeChallengeMethod {
	case PKCEMethodPlain:
		if subtle.ConstantTimeCompare([]byte(codeVerifier), []byte(codeChallenge)) != 1 {
			return ErrCodeVerificationFailed
		}
	case PKCEMethodS256:
		// SHA256 hash of the verifier, base64url encoded without padding
		hash := sha256.Sum256([]byte(codeVerifier))
		computed := base64.RawURLEncoding.EncodeToString(hash[:])

		if subtle.ConstantTimeCompare([]byte(computed), []byte(codeChallenge)) != 1 {
			return ErrCodeVerificationFailed
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChallengeMethod, codeChallengeMethod)
	}

	return nil
}
