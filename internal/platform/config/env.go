// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Prefix is the environment namespace shared by every cartstream process.
const Prefix = "CARTSTREAM_"

// ParseEnv loads configuration from environment variables. Field tags are
// resolved under Prefix followed by scope, so a `env:"HTTP_PORT"` field with
// scope "CART" reads CARTSTREAM_CART_HTTP_PORT.
func ParseEnv(scope string, target any) error {
	prefix := Prefix
	if scope = strings.Trim(strings.ToUpper(strings.TrimSpace(scope)), "_"); scope != "" {
		prefix += scope + "_"
	}
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
