package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// tokenParam is the query parameter that carries the credential.
const tokenParam = "token"

// BuildURL builds the socket URL from the configured base and a credential.
// http and https bases are upgraded to ws and wss.
func BuildURL(base, credential string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}

	if credential != "" {
		q := u.Query()
		q.Set(tokenParam, credential)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// redactURL hides the credential so URLs can be logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has(tokenParam) {
		q.Set(tokenParam, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
