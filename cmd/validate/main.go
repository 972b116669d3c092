// Command validate runs the survey pipeline stage by stage against a
// database and a weather mapping CSV, snapshotting the table between stages
// to check the correction properties: column swaps are exact exchanges,
// corrected elevations are non-negative with unchanged magnitude, crop names
// are remapped with passthrough, and the weather mapping joins onto every
// field.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -db sqlite:///data/mock/Maji_Ndogo_farm_survey_small.db \
//	  -csv data/mock/Weather_data_field_mapping.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/field-survey-etl/internal/adapter/sqldb"
	"github.com/couchcryptid/field-survey-etl/internal/adapter/webcsv"
	"github.com/couchcryptid/field-survey-etl/internal/config"
	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
	"github.com/couchcryptid/field-survey-etl/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxErrors caps the per-phase detail so a systemic failure stays readable.
const maxErrors = 20

func main() {
	dbPath := flag.String("db", config.DefaultDBPath, "survey database path")
	csvPath := flag.String("csv", config.DefaultWeatherMappingCSV, "weather station mapping CSV")
	logLevel := flag.String("log-level", "none", "pipeline log level (debug, info, none)")
	flag.Parse()

	os.Exit(run(*dbPath, *csvPath, *logLevel))
}

func run(dbPath, csvPath, logLevel string) int {
	logger := observability.NewLogger(logLevel, "text")
	metrics := observability.NewMetricsForTesting()

	connector := sqldb.NewConnector(logger)
	settings := pipeline.Settings{
		DBPath:            dbPath,
		SQLQuery:          config.DefaultSQLQuery,
		ColumnsToRename:   []domain.RenamePair{{From: "Annual_yield", To: "Crop_type"}},
		ValuesToRename:    map[string]string{"cassaval": "cassava", "wheatn": "wheat", "teaa": "tea"},
		WeatherMappingCSV: csvPath,
	}
	p := pipeline.New(settings, pipeline.ConnectorFunc(func(ctx context.Context, path string) (pipeline.Querier, error) {
		conn, err := connector.Connect(ctx, path)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}), webcsv.NewClient(30*time.Second, metrics, logger), logger, metrics)

	fmt.Println("=== Field Survey Integrity Validation ===")
	fmt.Println()

	ctx := context.Background()

	// ── Run the pipeline one stage at a time ──
	b, err := p.Ingest(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: ingest: %v\n", err)
		return 1
	}
	defer b.Close()
	ingested := b.Table.Clone()

	if err := p.RenameColumns(b); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: rename columns: %v\n", err)
		return 1
	}
	renamed := b.Table.Clone()

	if err := p.ApplyCorrections(b); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: apply corrections: %v\n", err)
		return 1
	}
	corrected := b.Table

	mapping, err := p.WeatherStationMapping(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: weather mapping: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	phases := []*phase{
		validateIngest(ingested, settings),
		validateSwap(ingested, renamed, settings.ColumnsToRename),
		validateAbs(renamed, corrected, pipeline.DefaultAbsColumn),
		validateRemap(renamed, corrected, pipeline.DefaultValueColumn, settings.ValuesToRename),
		validateMerge(corrected, mapping, "Field_ID"),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, ph := range phases {
		status := "\033[32mPASS\033[0m"
		if !ph.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(ph.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", ph.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d fields, %d columns, %d mapping rows\n",
		corrected.Len(), corrected.Width(), mapping.Len())

	for _, ph := range phases {
		if ph.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", ph.name)
		for i, e := range ph.errors {
			if i == maxErrors {
				fmt.Printf("  ... %d more\n", len(ph.errors)-maxErrors)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: ingestion ──

func validateIngest(tbl *domain.Table, settings pipeline.Settings) *phase {
	p := &phase{name: "Ingested table shape"}
	fmt.Println("Phase 1: Ingested table shape")

	if tbl.Len() == 0 {
		p.errorf("query returned no rows")
	}
	required := []string{"Field_ID", pipeline.DefaultAbsColumn}
	for _, pair := range settings.ColumnsToRename {
		required = append(required, pair.From)
	}
	for _, name := range required {
		if !tbl.Has(name) {
			p.errorf("missing column %q", name)
		}
	}

	ids, err := tbl.Values("Field_ID")
	if err == nil {
		seen := make(map[any]bool, len(ids))
		for i, id := range ids {
			if id == nil {
				p.errorf("row %d: Field_ID is NULL", i)
				continue
			}
			if seen[id] {
				p.errorf("row %d: duplicate Field_ID %v", i, id)
			}
			seen[id] = true
		}
	}

	fmt.Printf("  %d rows, %d columns\n", tbl.Len(), tbl.Width())
	return p
}

// ── Phase 2: column swaps ──

func validateSwap(before, after *domain.Table, pairs []domain.RenamePair) *phase {
	p := &phase{name: "Column swaps are exact exchanges"}
	fmt.Println("Phase 2: Column swaps are exact exchanges")

	// Replay the pairs on the column names to know where each column ended up.
	names := before.Columns()
	for _, pair := range pairs {
		i := slices.Index(names, pair.From)
		j := slices.Index(names, pair.To)
		if i < 0 {
			p.errorf("swap source %q was not in the table", pair.From)
			continue
		}
		names[i] = pair.To
		if j >= 0 {
			names[j] = pair.From
		}
	}

	if got := after.Columns(); !slices.Equal(got, names) {
		p.errorf("column order: got %v, want %v", got, names)
	}
	for _, c := range after.Columns() {
		if strings.HasPrefix(c, "__temp_name_for_swap__") {
			p.errorf("temporary label %q left behind", c)
		}
	}

	for i, orig := range before.Columns() {
		want, _ := before.Values(orig)
		got, err := after.Values(names[i])
		if err != nil {
			continue
		}
		if !reflect.DeepEqual(want, got) {
			p.errorf("values of %q did not move to %q intact", orig, names[i])
		}
	}

	fmt.Printf("  %d pairs checked\n", len(pairs))
	return p
}

// ── Phase 3: absolute values ──

func validateAbs(before, after *domain.Table, column string) *phase {
	p := &phase{name: "Elevations non-negative, same magnitude"}
	fmt.Println("Phase 3: Elevations non-negative, same magnitude")

	prev, err := before.Values(column)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	cur, err := after.Values(column)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	var flipped int
	for i := range cur {
		a, aok := toFloat(prev[i])
		b, bok := toFloat(cur[i])
		if aok != bok {
			p.errorf("row %d: %v became %v", i, prev[i], cur[i])
			continue
		}
		if !aok {
			continue
		}
		if b < 0 {
			p.errorf("row %d: %s is negative (%g)", i, column, b)
		}
		if math.Abs(a) != b {
			p.errorf("row %d: |%g| != %g", i, a, b)
		}
		if a < 0 {
			flipped++
		}
	}

	fmt.Printf("  %d negative values corrected\n", flipped)
	return p
}

// ── Phase 4: value remapping ──

func validateRemap(before, after *domain.Table, column string, mapping map[string]string) *phase {
	p := &phase{name: "Crop names remapped with passthrough"}
	fmt.Println("Phase 4: Crop names remapped with passthrough")

	prev, err := before.Values(column)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	cur, err := after.Values(column)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	var remapped int
	for i := range cur {
		want := domain.Lookup(mapping, prev[i])
		if !reflect.DeepEqual(want, cur[i]) {
			p.errorf("row %d: %v became %v, want %v", i, prev[i], cur[i], want)
		}
		if s, ok := cur[i].(string); ok {
			if _, isKey := mapping[s]; isKey {
				p.errorf("row %d: %q still a misspelling", i, s)
			}
		}
		if !reflect.DeepEqual(prev[i], cur[i]) {
			remapped++
		}
	}

	fmt.Printf("  %d values remapped\n", remapped)
	return p
}

// ── Phase 5: weather mapping merge ──

func validateMerge(tbl, mapping *domain.Table, key string) *phase {
	p := &phase{name: "Weather stations join onto every field"}
	fmt.Println("Phase 5: Weather stations join onto every field")

	merged, err := domain.LeftJoin(tbl, mapping, key)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	if merged.Len() != tbl.Len() {
		p.errorf("merge changed row count: %d -> %d (duplicate mapping keys?)", tbl.Len(), merged.Len())
	}

	stations, err := merged.Values("Weather_station")
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	ids, _ := merged.Values(key)
	var unmatched int
	for i, s := range stations {
		if s == nil {
			unmatched++
			p.errorf("field %v has no weather station", ids[i])
		}
	}

	fmt.Printf("  %d of %d fields matched\n", merged.Len()-unmatched, merged.Len())
	return p
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
