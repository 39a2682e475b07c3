package mssql

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	driverSQLServer = "sqlserver"
	driverAzureSQL  = "azuresql"
)

// connectionTarget is a validated connection string and the driver that serves it.
type connectionTarget struct {
	connStr string
	driver  string
}

// buildConnectionTarget validates a sqlserver:// URL. A stored key replaces
// the URL password, or the service principal secret when the URL selects
// Azure AD authentication through its fedauth parameter.
func buildConnectionTarget(rawURL, password string) (connectionTarget, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return connectionTarget{}, fmt.Errorf("invalid database url")
	}
	if u.Scheme != "sqlserver" {
		return connectionTarget{}, fmt.Errorf("database url must start with sqlserver://")
	}
	if u.Host == "" {
		return connectionTarget{}, fmt.Errorf("database url has no host")
	}

	q := u.Query()
	driver := driverSQLServer
	if q.Get("fedauth") != "" {
		driver = driverAzureSQL
	}

	if password != "" {
		switch {
		case driver == driverAzureSQL:
			q.Set("password", password)
		case u.User != nil && u.User.Username() != "":
			u.User = url.UserPassword(u.User.Username(), password)
		default:
			return connectionTarget{}, fmt.Errorf("database url has no user for the stored key")
		}
	}

	if q.Get("encrypt") == "" {
		q.Set("encrypt", "true")
	}
	u.RawQuery = q.Encode()

	return connectionTarget{connStr: u.String(), driver: driver}, nil
}
