// Package migrate runs database migrations on startup using goose.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/trellis-app/trellis-core/migrations"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

var Module = fx.Module("migrate",
	fx.Invoke(Run),
)

// Run applies all pending migrations before the rest of the app starts.
func Run(lc fx.Lifecycle, db *bun.DB, log *slog.Logger) {
	log = log.With(logger.Scope("migrate"))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			goose.SetBaseFS(migrations.FS)
			goose.SetLogger(&gooseLogger{log: log})

			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}

			if err := goose.UpContext(ctx, db.DB, "."); err != nil {
				return err
			}

			version, err := goose.GetDBVersionContext(ctx, db.DB)
			if err != nil {
				return err
			}

			log.Info("migrations applied", slog.Int64("version", version))
			return nil
		},
	})
}

// gooseLogger adapts slog to goose's logger interface
type gooseLogger struct {
	log *slog.Logger
}

func (g *gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error("goose", slog.String("msg", strings.TrimRight(fmt.Sprintf(format, v...), "\n")))
}

func (g *gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Debug("goose", slog.String("msg", strings.TrimRight(fmt.Sprintf(format, v...), "\n")))
}
