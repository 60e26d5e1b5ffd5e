package notifications

import (
	"go.uber.org/fx"

	"github.com/trellis-app/trellis-core/internal/config"
	"github.com/trellis-app/trellis-core/internal/jobs"
)

var Module = fx.Module("notifications",
	fx.Provide(
		newFormatters,
		newRenderer,
		NewRepository,
		NewService,
		NewSendHandler,
		NewValidateHandler,
		NewPreviewHandler,
	),
	fx.Invoke(registerHandlers),
)

func newFormatters(cfg *config.Config) (*Formatters, error) {
	loc, err := cfg.Site.Location()
	if err != nil {
		return nil, err
	}
	return NewFormatters(loc), nil
}

func newRenderer(formatters *Formatters, cfg *config.Config) *Renderer {
	return NewRenderer(formatters, cfg.Site.BaseURL)
}

func registerHandlers(registry *jobs.Registry, send *SendHandler, validate *ValidateHandler, preview *PreviewHandler) {
	registry.MustRegister(KindSend, send)
	registry.MustRegister(KindValidate, validate)
	registry.MustRegister(KindPreview, preview)
}
