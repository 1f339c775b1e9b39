package commands

import (
	"context"
	"log/slog"

	"github.com/dyluth/genegrid/internal/config"
	"github.com/dyluth/genegrid/internal/retry"
	"github.com/dyluth/genegrid/pkg/grid"
)

// openGrid opens the configured backend and wraps it with the retry policy.
// The raw store is returned too so callers can close it and ping it.
func openGrid(ctx context.Context, cfg *config.Config, logger *slog.Logger) (grid.Store, grid.Store, error) {
	if cfg.Grid.Backend == grid.BackendMemory {
		return nil, nil, fail("Grid not shared",
			"the memory backend lives inside one process, so the coordinator and workers would each see their own empty grid",
			map[string]string{"Backend": cfg.Grid.Backend, "Instance": cfg.Instance},
			"Set grid.backend to redis (or GENEGRID_BACKEND=redis)",
			"Use grid.backend: sqlite for processes on a single host",
		)
	}

	raw, err := grid.Open(ctx, cfg.GridOptions())
	if err != nil {
		ctxInfo := map[string]string{
			"Backend":  cfg.Grid.Backend,
			"Instance": cfg.Instance,
		}
		if cfg.Grid.Backend == grid.BackendRedis {
			ctxInfo["Redis URL"] = cfg.Grid.RedisURL
		}
		return nil, nil, fail("Grid unreachable", err.Error(), ctxInfo,
			"Check that the grid backend is running and reachable",
			"Set REDIS_URL (or grid.redis_url in genegrid.yml) to the shared Redis",
		)
	}
	return raw, retry.Wrap(raw, cfg.Retry, logger), nil
}
