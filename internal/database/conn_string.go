package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/livestatus/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Name,
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()

	return u.String()
}
