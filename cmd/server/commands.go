package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v2"

	"github.com/jengzang/commute-trips-backend/internal/analysis"
	"github.com/jengzang/commute-trips-backend/internal/analysis/aiclient"
	"github.com/jengzang/commute-trips-backend/internal/analysis/behavior"
	"github.com/jengzang/commute-trips-backend/internal/api"
	"github.com/jengzang/commute-trips-backend/internal/config"
	"github.com/jengzang/commute-trips-backend/internal/database"
	"github.com/jengzang/commute-trips-backend/internal/importer"
	"github.com/jengzang/commute-trips-backend/internal/middleware"
	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/repository"
	"github.com/jengzang/commute-trips-backend/internal/scheduler"
	"github.com/jengzang/commute-trips-backend/internal/service"
)

// app holds the wired services shared by every command
type app struct {
	cfg      *config.Config
	db       *sql.DB
	services api.Services
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := database.Init(database.Config{Path: cfg.DBPath}); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db := database.GetDB()

	var ai behavior.AIClassifier
	if cfg.AIClassifierURL != "" {
		ai = aiclient.New(cfg.AIClassifierURL, cfg.AIClassifierKey)
		log.Info().Str("url", cfg.AIClassifierURL).Msg("AI classifier enabled")
	}
	pipeline := analysis.NewPipeline(cfg.Tuning, cfg.Location, ai)

	fixRepo := repository.NewFixRepository(db)
	return &app{
		cfg: cfg,
		db:  db,
		services: api.Services{
			Ingest:   service.NewIngestService(db, cfg.Location, cfg.Tuning.GetClockSkew()),
			Analysis: service.NewAnalysisService(db, pipeline, cfg.Tuning, cfg.Location),
			Trips:    service.NewTripService(repository.NewTripRepository(db), fixRepo),
			Stats:    service.NewStatsService(repository.NewStatsRepository(db), repository.NewAnalysisUnitRepository(db), fixRepo),
		},
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "scheduler",
				Usage: "Also run the sync, catch-up and purge jobs in process",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer database.Close()
			if err := a.cfg.CheckSecrets(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			server := &http.Server{
				Addr:              a.cfg.Port,
				Handler:           api.SetupRouter(a.cfg, a.services),
				ReadHeaderTimeout: 10 * time.Second,
			}

			var wg conc.WaitGroup
			if c.Bool("scheduler") {
				sched := scheduler.New(a.services.Analysis, a.cfg.Tuning)
				wg.Go(func() { sched.Run(ctx) })
			}

			serverErr := make(chan error, 1)
			go func() {
				log.Info().Str("port", a.cfg.Port).Msg("Server starting")
				serverErr <- server.ListenAndServe()
			}()

			select {
			case err = <-serverErr:
				stop()
			case <-ctx.Done():
				log.Info().Msg("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				err = server.Shutdown(shutdownCtx)
			}
			wg.Wait()

			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := database.Init(database.Config{Path: cfg.DBPath}); err != nil {
				return err
			}
			defer database.Close()

			version, dirty, err := database.MigrateVersion(database.GetDB())
			if err != nil {
				return err
			}
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema is up to date")
			return nil
		},
	}
}

func jobCommand(name, usage string, run func(*service.AnalysisService, context.Context) (*models.JobReport, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, stop := signalContext()
			defer stop()

			report, err := run(a.services.Analysis, ctx)
			if report != nil {
				printJSON(report)
			}
			return err
		},
	}
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Run orchestrator jobs once, for an external scheduler",
		Subcommands: []*cli.Command{
			jobCommand("sync", "Analyse dates with new fixes inside the recent lookback", (*service.AnalysisService).SyncRecent),
			jobCommand("catchup", "Retry failed dates and analyse any date with unprocessed fixes", (*service.AnalysisService).CatchUp),
			jobCommand("purge", "Delete raw fixes older than the retention horizon", (*service.AnalysisService).Purge),
			{
				Name:  "runs",
				Usage: "List recent job runs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "job", Usage: "sync, catchup or purge"},
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.IntFlag{Name: "offset"},
				},
				Action: func(c *cli.Context) error {
					a, err := setup()
					if err != nil {
						return err
					}
					defer database.Close()

					runs, err := a.services.Analysis.ListJobRuns(c.Context, models.JobName(c.String("job")), c.Int("limit"), c.Int("offset"))
					if err != nil {
						return err
					}
					printJSON(runs)
					return nil
				},
			},
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import historical fixes from a CSV file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "CSV with a subject_id,latitude,longitude,speed,accuracy,recorded_at,source header"},
			&cli.IntFlag{Name: "batch-size", Value: importer.DefaultBatchSize},
		},
		Action: func(c *cli.Context) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, stop := signalContext()
			defer stop()

			im := importer.New(a.services.Ingest)
			im.BatchSize = c.Int("batch-size")
			result, err := im.ImportFile(ctx, c.String("file"))
			if err != nil {
				return err
			}

			for _, r := range result.Results {
				if r.Status == models.FixStatusRejected {
					log.Warn().Int("row", r.Index+1).Str("reason", r.Reason).Msg("Row rejected")
				}
			}
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a bearer token for a subject",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Required: true},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.CheckSecrets(); err != nil {
				return err
			}
			token, err := middleware.IssueToken(cfg.JWTSecret, c.String("subject"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to print result")
	}
}
