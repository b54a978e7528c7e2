package ctxstore

import (
	"context"
	"fmt"

	"github.com/kode4food/wireflow/internal/config"
)

// Open creates the Store selected by the context storage settings
func Open(ctx context.Context, cfg config.ContextStorage) (Store, error) {
	switch cfg.Module {
	case config.ContextMemory, "":
		return NewMemory(), nil
	case config.ContextRedis:
		r := NewRedis(cfg.Addr, cfg.Password, cfg.DB, WithPrefix(cfg.Prefix))
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("context storage %s: %w", cfg.Addr, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q",
			config.ErrInvalidContextModule, cfg.Module)
	}
}
