package postgres

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultSSLMode is applied when the URL does not name one.
const DefaultSSLMode = "require"

// buildConnectionString validates a postgres:// URL and injects the stored
// password when one is provided separately.
func buildConnectionString(rawURL, password string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid database url")
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("database url must start with postgres:// or postgresql://")
	}
	if u.Host == "" {
		return "", fmt.Errorf("database url has no host")
	}

	if password != "" {
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		if user == "" {
			return "", fmt.Errorf("database url has no user for the stored key")
		}
		u.User = url.UserPassword(user, password)
	}

	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", DefaultSSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
