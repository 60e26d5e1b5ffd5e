// Command worker runs the Trellis background job processor: it applies
// database migrations, starts the per-queue worker pools and the maintenance
// scheduler, and drains in-flight jobs on shutdown.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/trellis-app/trellis-core/domain/files"
	"github.com/trellis-app/trellis-core/domain/notifications"
	"github.com/trellis-app/trellis-core/domain/scheduler"
	"github.com/trellis-app/trellis-core/domain/uploads"
	"github.com/trellis-app/trellis-core/internal/config"
	"github.com/trellis-app/trellis-core/internal/database"
	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/internal/mail"
	"github.com/trellis-app/trellis-core/internal/migrate"
	"github.com/trellis-app/trellis-core/internal/storage"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

func main() {
	// Missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	app := fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(logger.Scope("fx"))}
		}),

		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		storage.Module,
		mail.Module,
		jobs.Module,

		notifications.Module,
		uploads.Module,
		files.Module,
		scheduler.Module,
	)

	app.Run()
}
