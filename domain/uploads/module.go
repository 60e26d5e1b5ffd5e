package uploads

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/trellis-app/trellis-core/internal/config"
	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/internal/storage"
)

var Module = fx.Module("uploads",
	fx.Provide(
		NewRepository,
		NewService,
		newPresignHandler,
	),
	fx.Invoke(registerHandlers),
)

func newPresignHandler(repo *Repository, presigner storage.Presigner, cfg *config.Config, log *slog.Logger) *PresignHandler {
	return NewPresignHandler(repo, presigner, cfg.Storage.PresignExpiry, log)
}

func registerHandlers(registry *jobs.Registry, presign *PresignHandler) {
	registry.MustRegister(KindPresign, presign)
}
