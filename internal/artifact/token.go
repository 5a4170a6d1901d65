package artifact

import "strings"

// hfTokenPrefix is the prefix of Hugging Face user access tokens.
const hfTokenPrefix = "hf_"

// ValidateToken performs the local format check done before any request is issued.
// It does not contact the remote store.
func ValidateToken(token string) error {
	t := strings.TrimSpace(token)
	if t == "" {
		return ErrInvalidToken
	}
	if !strings.HasPrefix(t, hfTokenPrefix) || len(t) <= 10 {
		return ErrInvalidToken
	}
	return nil
}

// RedactToken returns a form of token safe for logs.
func RedactToken(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:3] + "***" + token[len(token)-2:]
}
