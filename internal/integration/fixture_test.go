package integration_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/field-survey-etl/internal/adapter/sqldb"
	"github.com/couchcryptid/field-survey-etl/internal/adapter/webcsv"
	"github.com/couchcryptid/field-survey-etl/internal/config"
	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
	"github.com/couchcryptid/field-survey-etl/internal/pipeline"
)

// surveyFixture is a small copy of the survey layout with its known defects:
// crop names under Annual_yield, yields under Crop_type, a negative elevation
// and misspelled crops.
var surveyFixture = []string{
	`CREATE TABLE geographic_features (Field_ID INTEGER PRIMARY KEY, Elevation REAL, Location TEXT)`,
	`CREATE TABLE weather_features (Field_ID INTEGER PRIMARY KEY, Rainfall REAL)`,
	`CREATE TABLE soil_and_crop_features (Field_ID INTEGER PRIMARY KEY, Soil_type TEXT)`,
	`CREATE TABLE farm_management_features (Field_ID INTEGER PRIMARY KEY, Annual_yield TEXT, Crop_type REAL)`,
	`INSERT INTO geographic_features VALUES (40734, 786.0558, 'Rural_Akatsi'), (30629, -674.3341, 'Rural_Kilimani'), (39924, 826.5341, 'Rural_Kilimani'), (5754, 574.9407, 'Rural_Akatsi')`,
	`INSERT INTO weather_features VALUES (40734, 1125.2), (30629, 1450.7), (39924, 2208.9), (5754, 328.8)`,
	`INSERT INTO soil_and_crop_features VALUES (40734, 'Sandy'), (30629, 'Volcanic'), (39924, 'Silt'), (5754, 'Loamy')`,
	`INSERT INTO farm_management_features VALUES (40734, 'cassaval', 0.751354), (30629, 'wheatn', 1.069865), (39924, 'tea', 2.208801), (5754, 'teaa', 0.75)`,
}

const mappingFixture = "Field_ID,Weather_station\n40734,4\n30629,0\n39924,1\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedSurveyDB writes the fixture to a temporary SQLite file and returns its
// database path in URL form.
func seedSurveyDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survey.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range surveyFixture {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
	return "sqlite:///" + path
}

// serveMapping serves the weather mapping CSV and counts requests.
func serveMapping(t *testing.T, hits *int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*hits++
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, mappingFixture)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/Weather_data_field_mapping.csv"
}

// newProcessor wires the real database and CSV adapters the way the command does.
func newProcessor(dbPath, mappingURL string, metrics *observability.Metrics) *pipeline.Processor {
	logger := discardLogger()
	connector := sqldb.NewConnector(logger)
	fetcher := webcsv.NewCachedFetcher(webcsv.NewClient(5*time.Second, metrics, logger), 4, metrics)

	return pipeline.New(pipeline.Settings{
		DBPath:            dbPath,
		SQLQuery:          config.DefaultSQLQuery,
		ColumnsToRename:   []domain.RenamePair{{From: "Annual_yield", To: "Crop_type"}},
		ValuesToRename:    map[string]string{"cassaval": "cassava", "wheatn": "wheat", "teaa": "tea"},
		WeatherMappingCSV: mappingURL,
	}, pipeline.ConnectorFunc(func(ctx context.Context, path string) (pipeline.Querier, error) {
		conn, err := connector.Connect(ctx, path)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}), fetcher, logger, metrics)
}
