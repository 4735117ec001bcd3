package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront/internal/config"
)

// WithTimeout bounds ctx by d. A non-positive d leaves ctx as is.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// SessionURL adds statement_timeout and lock_timeout run-time parameters to
// the connection string unless it already sets them.
func SessionURL(cfg *config.DatabaseConfig) (string, error) {
	params := map[string]time.Duration{
		"statement_timeout": cfg.QueryTimeout,
		"lock_timeout":      cfg.LockTimeout,
	}

	if strings.HasPrefix(cfg.URL, "postgres://") || strings.HasPrefix(cfg.URL, "postgresql://") {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		q := u.Query()
		for name, d := range params {
			if d > 0 && q.Get(name) == "" {
				q.Set(name, millis(d))
			}
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	// key=value form
	dsn := cfg.URL
	for _, name := range []string{"statement_timeout", "lock_timeout"} {
		if d := params[name]; d > 0 && !strings.Contains(dsn, name+"=") {
			dsn += " " + name + "=" + millis(d)
		}
	}
	return strings.TrimSpace(dsn), nil
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
