package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
	"github.com/couchcryptid/field-survey-etl/internal/pipeline"
)

// --- mocks ---

type mockQuerier struct {
	table   *domain.Table
	err     error
	queries []string
	closed  int
}

func (m *mockQuerier) Query(_ context.Context, query string) (*domain.Table, error) {
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	return m.table.Clone(), nil
}

func (m *mockQuerier) Close() error {
	m.closed++
	return nil
}

type mockConnector struct {
	querier *mockQuerier
	err     error
	paths   []string
}

func (m *mockConnector) Connect(_ context.Context, path string) (pipeline.Querier, error) {
	m.paths = append(m.paths, path)
	if m.err != nil {
		return nil, m.err
	}
	return m.querier, nil
}

type mockFetcher struct {
	table *domain.Table
	err   error
	uris  []string
}

func (m *mockFetcher) FetchCSV(_ context.Context, uri string) (*domain.Table, error) {
	m.uris = append(m.uris, uri)
	if m.err != nil {
		return nil, m.err
	}
	return m.table, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// surveyTable mirrors the raw survey defects: Annual_yield and Crop_type are
// mislabeled, elevations carry stray signs and crop names have typos.
func surveyTable(t *testing.T) *domain.Table {
	t.Helper()
	tbl, err := domain.FromColumns(
		domain.Column{Name: "Field_ID", Values: []any{int64(40734), int64(30629), int64(39924)}},
		domain.Column{Name: "Elevation", Values: []any{-49.2, 12.0, nil}},
		domain.Column{Name: "Annual_yield", Values: []any{"cassaval", "tea", "wheatn"}},
		domain.Column{Name: "Crop_type", Values: []any{0.75, 1.2, 0.5}},
	)
	require.NoError(t, err)
	return tbl
}

func defaultSettings() pipeline.Settings {
	return pipeline.Settings{
		DBPath:            "sqlite:///survey.db",
		SQLQuery:          "SELECT * FROM geographic_features",
		ColumnsToRename:   []domain.RenamePair{{From: "Annual_yield", To: "Crop_type"}},
		ValuesToRename:    map[string]string{"cassaval": "cassava", "wheatn": "wheat", "teaa": "tea"},
		WeatherMappingCSV: "https://example.com/mapping.csv",
	}
}

type harness struct {
	conn    *mockConnector
	fetcher *mockFetcher
	metrics *observability.Metrics
	proc    *pipeline.Processor
}

func newHarness(t *testing.T, settings pipeline.Settings) *harness {
	t.Helper()
	h := &harness{
		conn:    &mockConnector{querier: &mockQuerier{table: surveyTable(t)}},
		fetcher: &mockFetcher{},
		metrics: observability.NewMetricsForTesting(),
	}
	h.proc = pipeline.New(settings, h.conn, h.fetcher, discardLogger(), h.metrics)
	return h
}

// --- tests ---

func TestProcessor_Process_HappyPath(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.March, 4, 9, 30, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	h := newHarness(t, defaultSettings())

	b, err := h.proc.Process(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.Equal(t, pipeline.StageCorrected, b.Stage)
	_, err = uuid.Parse(b.RunID)
	require.NoError(t, err, "run id is a uuid")
	assert.Equal(t, fakeClock.Now(), b.IngestedAt)
	assert.Equal(t, fakeClock.Now(), b.CorrectedAt)

	assert.Equal(t, []string{"Field_ID", "Elevation", "Crop_type", "Annual_yield"}, b.Table.Columns())

	crops, err := b.Table.Values("Crop_type")
	require.NoError(t, err)
	assert.Equal(t, []any{"cassava", "tea", "wheat"}, crops)

	yields, err := b.Table.Values("Annual_yield")
	require.NoError(t, err)
	assert.Equal(t, []any{0.75, 1.2, 0.5}, yields)

	elev, err := b.Table.Values("Elevation")
	require.NoError(t, err)
	assert.Equal(t, []any{49.2, 12.0, nil}, elev)

	assert.Equal(t, []string{"sqlite:///survey.db"}, h.conn.paths)
	assert.Equal(t, []string{"SELECT * FROM geographic_features"}, h.conn.querier.queries)
	require.NoError(t, h.proc.CheckReadiness(context.Background()))
	assert.InDelta(t, 3, testutil.ToFloat64(h.metrics.RowsIngested), 0)
	assert.InDelta(t, float64(fakeClock.Now().Unix()), testutil.ToFloat64(h.metrics.LastSuccess), 0)
}

func TestProcessor_Process_IngestFailure(t *testing.T) {
	connErr := errors.New("unable to open database file")
	h := newHarness(t, defaultSettings())
	h.conn.err = connErr

	b, err := h.proc.Process(context.Background())
	require.ErrorIs(t, err, connErr)
	assert.Nil(t, b)
	require.Error(t, h.proc.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.StageErrors.WithLabelValues("ingest")), 0)
}

func TestProcessor_Ingest_QueryFailureClosesConnection(t *testing.T) {
	queryErr := errors.New("no such table: geographic_features")
	h := newHarness(t, defaultSettings())
	h.conn.querier.err = queryErr

	b, err := h.proc.Ingest(context.Background())
	require.ErrorIs(t, err, queryErr)
	assert.Nil(t, b)
	assert.Equal(t, 1, h.conn.querier.closed)
}

func TestProcessor_Process_RenameFailureKeepsIngestedBatch(t *testing.T) {
	settings := defaultSettings()
	settings.ColumnsToRename = []domain.RenamePair{{From: "Yield", To: "Crop_type"}}
	h := newHarness(t, settings)

	b, err := h.proc.Process(context.Background())
	require.ErrorIs(t, err, domain.ErrColumnNotFound)
	require.NotNil(t, b)
	assert.Equal(t, pipeline.StageIngested, b.Stage)

	elev, err := b.Table.Values("Elevation")
	require.NoError(t, err)
	assert.Equal(t, []any{-49.2, 12.0, nil}, elev, "corrections must not run")
	require.Error(t, h.proc.CheckReadiness(context.Background()))
}

func TestProcessor_Process_CorrectionFailureKeepsRenamedBatch(t *testing.T) {
	settings := defaultSettings()
	settings.AbsColumn = "Slope"
	h := newHarness(t, settings)

	b, err := h.proc.Process(context.Background())
	require.ErrorIs(t, err, domain.ErrColumnNotFound)
	require.NotNil(t, b)
	assert.Equal(t, pipeline.StageRenamed, b.Stage)
	assert.True(t, b.CorrectedAt.IsZero())

	crops, err := b.Table.Values("Crop_type")
	require.NoError(t, err)
	assert.Equal(t, []any{"cassaval", "tea", "wheatn"}, crops, "remap must not run when a column is missing")
}

func TestProcessor_RenameColumns_SequentialPairs(t *testing.T) {
	settings := defaultSettings()
	settings.ColumnsToRename = []domain.RenamePair{
		{From: "Annual_yield", To: "Crop_type"},
		{From: "Elevation", To: "Altitude"},
	}
	h := newHarness(t, settings)

	b, err := h.proc.Ingest(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.proc.RenameColumns(b))

	assert.Equal(t, []string{"Field_ID", "Altitude", "Crop_type", "Annual_yield"}, b.Table.Columns())
	assert.Equal(t, pipeline.StageRenamed, b.Stage)
}

func TestProcessor_RenameColumns_PartialFailureIsNotRolledBack(t *testing.T) {
	settings := defaultSettings()
	settings.ColumnsToRename = []domain.RenamePair{
		{From: "Annual_yield", To: "Crop_type"},
		{From: "Rainfall", To: "Pollution_level"},
	}
	h := newHarness(t, settings)

	b, err := h.proc.Ingest(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, h.proc.RenameColumns(b), domain.ErrColumnNotFound)

	crops, err := b.Table.Values("Crop_type")
	require.NoError(t, err)
	assert.Equal(t, []any{"cassaval", "tea", "wheatn"}, crops)
	assert.Equal(t, pipeline.StageIngested, b.Stage)
}

func TestProcessor_StageOrder(t *testing.T) {
	h := newHarness(t, defaultSettings())

	tests := []struct {
		name string
		run  func(*pipeline.Batch) error
		b    func(t *testing.T) *pipeline.Batch
		want error
	}{
		{
			name: "rename without batch",
			run:  h.proc.RenameColumns,
			b:    func(*testing.T) *pipeline.Batch { return nil },
			want: pipeline.ErrTableNotLoaded,
		},
		{
			name: "corrections without batch",
			run:  func(b *pipeline.Batch) error { return h.proc.ApplyCorrections(b) },
			b:    func(*testing.T) *pipeline.Batch { return &pipeline.Batch{} },
			want: pipeline.ErrTableNotLoaded,
		},
		{
			name: "corrections before rename",
			run:  func(b *pipeline.Batch) error { return h.proc.ApplyCorrections(b) },
			b: func(t *testing.T) *pipeline.Batch {
				b, err := h.proc.Ingest(context.Background())
				require.NoError(t, err)
				return b
			},
			want: pipeline.ErrStageOrder,
		},
		{
			name: "rename twice",
			run:  h.proc.RenameColumns,
			b: func(t *testing.T) *pipeline.Batch {
				b, err := h.proc.Ingest(context.Background())
				require.NoError(t, err)
				require.NoError(t, h.proc.RenameColumns(b))
				return b
			},
			want: pipeline.ErrStageOrder,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(tt.b(t))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcessor_ApplyCorrections_Options(t *testing.T) {
	settings := defaultSettings()
	settings.ColumnsToRename = nil
	settings.ValuesToRename = map[string]string{"cassaval": "cassava"}
	h := newHarness(t, settings)

	b, err := h.proc.Ingest(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.proc.RenameColumns(b))
	require.NoError(t, h.proc.ApplyCorrections(b,
		pipeline.WithValueColumn("Annual_yield"),
		pipeline.WithAbsColumn("Elevation"),
	))

	crops, err := b.Table.Values("Annual_yield")
	require.NoError(t, err)
	assert.Equal(t, []any{"cassava", "tea", "wheatn"}, crops, "unmapped values pass through")

	yields, err := b.Table.Values("Crop_type")
	require.NoError(t, err)
	assert.Equal(t, []any{0.75, 1.2, 0.5}, yields, "numeric values pass through")
}

func TestProcessor_ApplyCorrections_AbsAndPassthrough(t *testing.T) {
	settings := defaultSettings()
	settings.ColumnsToRename = nil
	settings.ValuesToRename = map[string]string{"unknown_code": "wheat"}
	h := newHarness(t, settings)

	tbl, err := domain.FromColumns(
		domain.Column{Name: "Field_ID", Values: []any{int64(1), int64(2), int64(3)}},
		domain.Column{Name: "Elevation", Values: []any{int64(-5), int64(10), int64(-3)}},
		domain.Column{Name: "Crop_type", Values: []any{"unknown_code", "maize", "cassava"}},
	)
	require.NoError(t, err)
	h.conn.querier.table = tbl

	b, err := h.proc.Ingest(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.proc.RenameColumns(b))
	require.NoError(t, h.proc.ApplyCorrections(b))

	elevation, err := b.Table.Values("Elevation")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5), int64(10), int64(3)}, elevation)

	crops, err := b.Table.Values("Crop_type")
	require.NoError(t, err)
	assert.Equal(t, []any{"wheat", "maize", "cassava"}, crops)
	assert.Equal(t, pipeline.StageCorrected, b.Stage)
}

func TestProcessor_ApplyCorrections_NonNumericAbsColumn(t *testing.T) {
	settings := defaultSettings()
	settings.AbsColumn = "Crop_type"
	h := newHarness(t, settings)

	b, err := h.proc.Process(context.Background())
	require.ErrorIs(t, err, domain.ErrNotNumeric)
	assert.Equal(t, pipeline.StageRenamed, b.Stage)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.StageErrors.WithLabelValues("correct")), 0)
}

func TestProcessor_SettingsAreCopied(t *testing.T) {
	settings := defaultSettings()
	h := newHarness(t, settings)

	settings.ValuesToRename["cassaval"] = "maize"
	settings.ColumnsToRename[0] = domain.RenamePair{From: "Elevation", To: "Crop_type"}

	b, err := h.proc.Process(context.Background())
	require.NoError(t, err)

	crops, err := b.Table.Values("Crop_type")
	require.NoError(t, err)
	assert.Equal(t, "cassava", crops[0])
}

func TestProcessor_WeatherStationMapping(t *testing.T) {
	mapping, err := domain.FromColumns(
		domain.Column{Name: "Field_ID", Values: []any{int64(40734)}},
		domain.Column{Name: "Weather_station", Values: []any{int64(4)}},
	)
	require.NoError(t, err)

	h := newHarness(t, defaultSettings())
	h.fetcher.table = mapping

	got, err := h.proc.WeatherStationMapping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{int64(40734), int64(4)}, got.Row(0))
	assert.Equal(t, []string{"https://example.com/mapping.csv"}, h.fetcher.uris)
	assert.Empty(t, h.conn.paths, "mapping fetch does not touch the database")
}

func TestProcessor_WeatherStationMapping_Error(t *testing.T) {
	fetchErr := errors.New("connection refused")
	h := newHarness(t, defaultSettings())
	h.fetcher.err = fetchErr

	_, err := h.proc.WeatherStationMapping(context.Background())
	require.ErrorIs(t, err, fetchErr)
}

func TestBatch_Close(t *testing.T) {
	h := newHarness(t, defaultSettings())

	b, err := h.proc.Ingest(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, h.conn.querier.closed)

	var nilBatch *pipeline.Batch
	require.NoError(t, nilBatch.Close())
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "unpopulated", pipeline.StageUnpopulated.String())
	assert.Equal(t, "corrected", pipeline.StageCorrected.String())
	assert.Equal(t, "stage(9)", pipeline.Stage(9).String())
}

func TestProcessor_LastRun(t *testing.T) {
	h := newHarness(t, defaultSettings())

	_, ok := h.proc.LastRun()
	assert.False(t, ok)

	b, err := h.proc.Process(context.Background())
	require.NoError(t, err)

	run, ok := h.proc.LastRun()
	require.True(t, ok)
	assert.Equal(t, b.RunID, run.RunID)
	assert.Equal(t, "corrected", run.Stage)
	assert.Equal(t, 3, run.Rows)
	assert.Equal(t, []string{"Field_ID", "Elevation", "Crop_type", "Annual_yield"}, run.Columns)
	assert.Empty(t, run.Error)

	h.conn.err = errors.New("database is locked")
	_, err = h.proc.Process(context.Background())
	require.Error(t, err)

	run, ok = h.proc.LastRun()
	require.True(t, ok)
	assert.Equal(t, "unpopulated", run.Stage)
	assert.Empty(t, run.RunID)
	assert.Equal(t, "database is locked", run.Error)
	require.NoError(t, h.proc.CheckReadiness(context.Background()), "readiness sticks after a good run")
}
