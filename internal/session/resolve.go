package session

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/duet/internal/config"
)

const DefaultSessionName = "main"

// Names become directory names and must not look like flags.
var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName reports whether name can be used as a session name.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use up to 64 of a-z, 0-9, '-' and '_', starting with a letter or digit", name)
	}
	return nil
}

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. DUET_SESSION, then config.toml default_session
// 3. "main"
//
// The chosen name is validated; the error says where it came from.
func Resolve(flagOverride string) (string, error) {
	if flagOverride != "" {
		if err := ValidateName(flagOverride); err != nil {
			return "", fmt.Errorf("--session: %w", err)
		}
		return flagOverride, nil
	}
	cfg, err := config.Resolve(ConfigPath())
	if err != nil {
		return "", err
	}
	if cfg.DefaultSession == "" {
		return DefaultSessionName, nil
	}
	if err := ValidateName(cfg.DefaultSession); err != nil {
		return "", fmt.Errorf("default session from %s or DUET_SESSION: %w", ConfigPath(), err)
	}
	return cfg.DefaultSession, nil
}
