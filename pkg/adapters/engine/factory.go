package engine

import (
	"fmt"
	"time"

	"github.com/aescanero/unite/pkg/adapters/engine/simulated"
	"github.com/aescanero/unite/pkg/ports"
	"go.uber.org/zap"
)

// Config holds step engine configuration
type Config struct {
	Provider  string
	StepDelay time.Duration
	Logger    *zap.Logger
}

// NewEngine creates a new step engine based on provider
func NewEngine(cfg *Config) (ports.StepEngine, error) {
	switch cfg.Provider {
	case "", "simulated":
		return simulated.NewEngine(cfg.StepDelay, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported step engine: %s", cfg.Provider)
	}
}
