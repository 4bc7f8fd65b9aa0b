package engine

import (
	"fmt"
	"log/slog"
	"time"

	"pageforge/internal/config"
	"pageforge/internal/domain/services"
	"pageforge/internal/service/engine/anthropic"
	"pageforge/internal/service/engine/lorem"
)

// New selects the completion engine for this process. One implementation per
// provider, chosen once at startup.
func New(cfg *config.Config, logger *slog.Logger) (services.CompletionEngine, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("provider 'anthropic' requires ANTHROPIC_API_KEY")
		}
		return anthropic.New(cfg.AnthropicAPIKey, cfg.Model, logger), nil
	case "lorem":
		return lorem.New(25 * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown completion provider: %s", cfg.Provider)
	}
}
