package files

import (
	"go.uber.org/fx"

	"github.com/trellis-app/trellis-core/internal/jobs"
)

var Module = fx.Module("files",
	fx.Provide(
		NewRepository,
		NewService,
		NewThumbnailHandler,
		func() Rasterizer { return PdftoppmRasterizer{} },
	),
	fx.Invoke(registerHandlers),
)

func registerHandlers(registry *jobs.Registry, thumbnail *ThumbnailHandler) {
	registry.MustRegister(KindThumbnail, thumbnail)
}
