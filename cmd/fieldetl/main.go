package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/field-survey-etl/internal/adapter/console"
	httpadapter "github.com/couchcryptid/field-survey-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/field-survey-etl/internal/adapter/kafka"
	"github.com/couchcryptid/field-survey-etl/internal/adapter/sqldb"
	"github.com/couchcryptid/field-survey-etl/internal/adapter/webcsv"
	"github.com/couchcryptid/field-survey-etl/internal/config"
	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
	"github.com/couchcryptid/field-survey-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	connector := sqldb.NewConnector(logger)
	client := webcsv.NewClient(cfg.WeatherFetchTimeout, metrics, logger)
	fetcher := webcsv.NewCachedFetcher(client, cfg.WeatherCacheSize, metrics)

	ps := settings(cfg)
	logger.Info("processor configured", "settings", ps.String())

	p := pipeline.New(ps, pipeline.ConnectorFunc(func(ctx context.Context, path string) (pipeline.Querier, error) {
		conn, err := connector.Connect(ctx, path)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}), fetcher, logger, metrics)

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, metrics, logger)
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic, "brokers", cfg.KafkaBrokers)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The HTTP server is optional; without HTTP_ADDR the command exits after one run.
	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	exitCode := 0
	if err := run(ctx, cfg, p, writer, os.Stdout, logger); err != nil {
		logger.Error("pipeline error", "error", err)
		exitCode = 1
	}

	if srv != nil {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		cancel()
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	os.Exit(exitCode)
}

func settings(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		DBPath:            cfg.DBPath,
		SQLQuery:          cfg.SQLQuery,
		ColumnsToRename:   cfg.ColumnsToRename,
		ValuesToRename:    cfg.ValuesToRename,
		WeatherMappingCSV: cfg.WeatherMappingCSV,
		ValueColumn:       cfg.ValueColumn,
		AbsColumn:         cfg.AbsColumn,
	}
}

// run processes one batch while fetching the weather station mapping, joins
// the mapping onto the corrected table, prints a preview and publishes the
// merged rows when a sink is configured.
func run(ctx context.Context, cfg *config.Config, p *pipeline.Processor, writer *kafkaadapter.Writer, out io.Writer, logger *slog.Logger) error {
	var (
		b       *pipeline.Batch
		mapping *domain.Table
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		b, err = p.Process(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		mapping, err = p.WeatherStationMapping(gctx)
		return err
	})
	err := g.Wait()
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Warn("close database", "error", cerr)
		}
	}()
	if err != nil {
		return err
	}

	merged, err := domain.LeftJoin(b.Table, mapping, cfg.MergeKey)
	if err != nil {
		return fmt.Errorf("merge weather mapping: %w", err)
	}
	logger.Info("weather mapping merged", "run_id", b.RunID, "rows", merged.Len(), "columns", merged.Width())

	if err := console.Preview(out, merged, cfg.PreviewRows); err != nil {
		return fmt.Errorf("print preview: %w", err)
	}

	if writer != nil {
		if err := writer.LoadTable(ctx, b.RunID, merged, cfg.KafkaKeyColumn); err != nil {
			return err
		}
	}
	return nil
}
