package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secrets
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessSecret != "" && c.JWT.RefreshSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Quota tiers must be positive and the admin tier at least as permissive
	// as the standard tier.
	if c.Limits.StandardRequests < 1 || c.Limits.StandardTokens < 1 {
		errs = append(errs, "standard tier limits must be positive")
	}
	if c.Limits.AdminRequests < c.Limits.StandardRequests {
		errs = append(errs, fmt.Sprintf("LIMITS_ADMIN_REQUESTS (%d) must not be below LIMITS_STANDARD_REQUESTS (%d)",
			c.Limits.AdminRequests, c.Limits.StandardRequests))
	}
	if c.Limits.AdminTokens < c.Limits.StandardTokens {
		errs = append(errs, fmt.Sprintf("LIMITS_ADMIN_TOKENS (%d) must not be below LIMITS_STANDARD_TOKENS (%d)",
			c.Limits.AdminTokens, c.Limits.StandardTokens))
	}

	if c.LLM.Timeout <= 0 {
		errs = append(errs, "LLM_TIMEOUT must be positive")
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, "SESSION_TTL must be positive")
	}

	// Upstream API key: warn only — a stub upstream needs none.
	if c.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY is empty — upstream calls will be unauthenticated")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
