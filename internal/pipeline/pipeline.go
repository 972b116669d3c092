package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
)

// Querier runs ingestion queries against an open database.
type Querier interface {
	Query(ctx context.Context, query string) (*domain.Table, error)
	Close() error
}

// Connector opens a database from its configured path.
type Connector interface {
	Connect(ctx context.Context, path string) (Querier, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, path string) (Querier, error)

func (f ConnectorFunc) Connect(ctx context.Context, path string) (Querier, error) {
	return f(ctx, path)
}

// CSVFetcher reads a remote or local CSV resource into a table.
type CSVFetcher interface {
	FetchCSV(ctx context.Context, uri string) (*domain.Table, error)
}

// Settings is the processor configuration. It is copied on construction and
// never changed afterwards.
type Settings struct {
	DBPath            string
	SQLQuery          string
	ColumnsToRename   []domain.RenamePair
	ValuesToRename    map[string]string
	WeatherMappingCSV string

	// ValueColumn and AbsColumn are the default correction targets.
	ValueColumn string
	AbsColumn   string
}

const (
	DefaultValueColumn = "Crop_type"
	DefaultAbsColumn   = "Elevation"
)

var (
	// ErrTableNotLoaded is returned when a stage runs before ingestion.
	ErrTableNotLoaded = errors.New("table not loaded")

	// ErrStageOrder is returned when a stage runs out of sequence.
	ErrStageOrder = errors.New("pipeline stage out of order")
)

// Processor runs the field survey pipeline: ingest, swap column names, apply
// corrections. Weather station mapping is fetched separately.
type Processor struct {
	settings  Settings
	connector Connector
	fetcher   CSVFetcher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	mu      sync.Mutex
	lastRun *domain.RunSummary
}

// New creates a Processor with the given settings, collaborators and observability.
func New(settings Settings, connector Connector, fetcher CSVFetcher, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	settings.ColumnsToRename = slices.Clone(settings.ColumnsToRename)
	settings.ValuesToRename = maps.Clone(settings.ValuesToRename)
	if settings.ValueColumn == "" {
		settings.ValueColumn = DefaultValueColumn
	}
	if settings.AbsColumn == "" {
		settings.AbsColumn = DefaultAbsColumn
	}
	return &Processor{
		settings:  settings,
		connector: connector,
		fetcher:   fetcher,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a batch has been fully processed.
func (p *Processor) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no batch has been processed yet")
	}
	return nil
}

// Process runs ingestion, column renaming and corrections in that order. It
// stops at the first failing stage and returns its error as is. When
// ingestion fails the batch is nil; otherwise the batch is returned in
// whatever state the successful stages left it.
func (p *Processor) Process(ctx context.Context) (*Batch, error) {
	b, err := p.Ingest(ctx)
	if err != nil {
		p.record(nil, err)
		return nil, err
	}
	if err := p.RenameColumns(b); err != nil {
		p.record(b, err)
		return b, err
	}
	if err := p.ApplyCorrections(b); err != nil {
		p.record(b, err)
		return b, err
	}
	p.record(b, nil)

	p.ready.Store(true)
	p.metrics.LastSuccess.Set(float64(b.CorrectedAt.Unix()))
	p.logger.Info("batch processed", "run_id", b.RunID, "rows", b.Table.Len(), "columns", b.Table.Width())
	return b, nil
}

// LastRun returns the summary of the most recent Process call, if any.
func (p *Processor) LastRun() (domain.RunSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRun == nil {
		return domain.RunSummary{}, false
	}
	s := *p.lastRun
	s.Columns = slices.Clone(s.Columns)
	return s, true
}

func (p *Processor) record(b *Batch, err error) {
	s := domain.RunSummary{Stage: StageUnpopulated.String()}
	if b != nil {
		s.RunID = b.RunID
		s.Stage = b.Stage.String()
		s.IngestedAt = b.IngestedAt
		s.CorrectedAt = b.CorrectedAt
		if b.Table != nil {
			s.Rows = b.Table.Len()
			s.Columns = b.Table.Columns()
		}
	}
	if err != nil {
		s.Error = err.Error()
	}

	p.mu.Lock()
	p.lastRun = &s
	p.mu.Unlock()
}

// Ingest connects to the configured database, runs the configured query and
// returns a batch holding the connection and the resulting table.
func (p *Processor) Ingest(ctx context.Context) (*Batch, error) {
	start := time.Now()

	conn, err := p.connector.Connect(ctx, p.settings.DBPath)
	if err != nil {
		p.metrics.StageErrors.WithLabelValues(stageIngest).Inc()
		return nil, err
	}

	tbl, err := conn.Query(ctx, p.settings.SQLQuery)
	if err != nil {
		p.metrics.StageErrors.WithLabelValues(stageIngest).Inc()
		if cerr := conn.Close(); cerr != nil {
			p.logger.Warn("close connection after failed query", "error", cerr)
		}
		return nil, err
	}

	runID := uuid.NewString()
	p.observe(stageIngest, start)
	p.metrics.RowsIngested.Add(float64(tbl.Len()))
	p.logger.Info("successfully loaded data", "run_id", runID, "rows", tbl.Len(), "columns", tbl.Width())

	return &Batch{
		RunID:      runID,
		Table:      tbl,
		Stage:      StageIngested,
		IngestedAt: domain.Now(),
		conn:       conn,
	}, nil
}

// RenameColumns swaps the names of each configured column pair, in order.
// Pairs already applied stay applied if a later pair fails.
func (p *Processor) RenameColumns(b *Batch) error {
	if err := b.expect(StageIngested, "rename columns"); err != nil {
		return err
	}
	start := time.Now()

	for _, pair := range p.settings.ColumnsToRename {
		if err := b.Table.SwapColumns(pair.From, pair.To); err != nil {
			p.metrics.StageErrors.WithLabelValues(stageRename).Inc()
			return err
		}
		p.logger.Info("swapped columns", "from", pair.From, "to", pair.To)
	}

	b.Stage = StageRenamed
	p.observe(stageRename, start)
	return nil
}

// WeatherStationMapping fetches the Field_ID to weather station mapping from
// the configured CSV location. Batch state is not touched.
func (p *Processor) WeatherStationMapping(ctx context.Context) (*domain.Table, error) {
	tbl, err := p.fetcher.FetchCSV(ctx, p.settings.WeatherMappingCSV)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("weather station mapping loaded", "rows", tbl.Len())
	return tbl, nil
}

func (p *Processor) observe(stage string, start time.Time) {
	p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// String summarizes the settings for logs.
func (s Settings) String() string {
	return fmt.Sprintf("db=%s renames=%v values=%d weather=%s", s.DBPath, s.ColumnsToRename, len(s.ValuesToRename), s.WeatherMappingCSV)
}
