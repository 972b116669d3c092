// Command genmock writes a SQLite field survey fixture and the matching
// weather station mapping CSV for local runs and integration tests. The data
// carries the same defects as the real survey: Annual_yield and Crop_type are
// mislabeled, some elevations have a stray minus sign and some crop names are
// misspelled.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -db data/mock/Maji_Ndogo_farm_survey_small.db \
//	  -csv data/mock/Weather_data_field_mapping.csv \
//	  -rows 500
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE geographic_features (
		Field_ID INTEGER PRIMARY KEY,
		Elevation REAL,
		Latitude REAL,
		Longitude REAL,
		Location TEXT,
		Slope REAL
	)`,
	`CREATE TABLE weather_features (
		Field_ID INTEGER PRIMARY KEY,
		Rainfall REAL,
		Min_temperature_C REAL,
		Max_temperature_C REAL,
		Ave_temps REAL
	)`,
	`CREATE TABLE soil_and_crop_features (
		Field_ID INTEGER PRIMARY KEY,
		Soil_fertility REAL,
		Soil_type TEXT,
		pH REAL
	)`,
	`CREATE TABLE farm_management_features (
		Field_ID INTEGER PRIMARY KEY,
		Pollution_level REAL,
		Plot_size REAL,
		Annual_yield TEXT,
		Crop_type REAL,
		Standard_yield REAL
	)`,
}

// maxFields bounds the Field_ID space; IDs are drawn without replacement.
const maxFields = 90000

var (
	locations = []string{"Rural_Akatsi", "Rural_Sokoto", "Rural_Hawassa", "Rural_Kilimani", "Rural_Amanzi"}
	soilTypes = []string{"Loamy", "Sandy", "Silt", "Volcanic", "Peaty", "Rocky"}
	crops     = []string{"cassava", "tea", "wheat", "potato", "banana", "coffee", "rice", "maize"}
	typos     = map[string]string{"cassava": "cassaval", "wheat": "wheatn", "tea": "teaa"}
)

// field is one generated survey row before it is split across tables.
type field struct {
	id        int
	elevation float64
	lat, lon  float64
	location  string
	slope     float64

	rainfall, minTemp, maxTemp float64

	fertility float64
	soilType  string
	ph        float64

	pollution, plotSize float64
	crop                string
	yield, standard     float64

	station int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dbOut := flag.String("db", "", "output path for the SQLite survey database")
	csvOut := flag.String("csv", "", "output path for the weather station mapping CSV")
	rows := flag.Int("rows", 500, "number of fields to generate")
	seed := flag.Uint64("seed", 42, "random seed for reproducible fixtures")
	flag.Parse()

	if *dbOut == "" || *csvOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -db, -csv")
	}
	if *rows <= 0 || *rows > maxFields {
		return fmt.Errorf("-rows must be between 1 and %d", maxFields)
	}

	fields := generate(*rows, rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)))

	if err := writeDB(*dbOut, fields); err != nil {
		return fmt.Errorf("writing survey database: %w", err)
	}
	log.Printf("wrote survey database: %s (%d fields)", *dbOut, len(fields))

	if err := writeMapping(*csvOut, fields); err != nil {
		return fmt.Errorf("writing mapping CSV: %w", err)
	}
	log.Printf("wrote weather mapping: %s", *csvOut)

	printStats(fields)
	return nil
}

func generate(n int, r *rand.Rand) []field {
	ids := r.Perm(maxFields)[:n]
	fields := make([]field, n)
	for i := range fields {
		crop := crops[r.IntN(len(crops))]
		if typo, ok := typos[crop]; ok && r.IntN(10) == 0 {
			crop = typo
		}
		elevation := 35 + r.Float64()*1000
		if r.IntN(10) == 0 {
			elevation = -elevation
		}
		minTemp := -5 + r.Float64()*10
		maxTemp := 25 + r.Float64()*12
		standard := 0.05 + r.Float64()*0.6

		fields[i] = field{
			id:        10000 + ids[i],
			elevation: round(elevation, 4),
			lat:       round(-11+r.Float64()*2.5, 6),
			lon:       round(-10.5+r.Float64()*10, 6),
			location:  locations[r.IntN(len(locations))],
			slope:     round(r.Float64()*30, 4),

			rainfall: round(100+r.Float64()*2900, 1),
			minTemp:  round(minTemp, 1),
			maxTemp:  round(maxTemp, 1),

			fertility: round(0.4+r.Float64()*0.5, 2),
			soilType:  soilTypes[r.IntN(len(soilTypes))],
			ph:        round(4.5+r.Float64()*3, 6),

			pollution: round(r.Float64(), 6),
			plotSize:  round(0.5+r.Float64()*15, 1),
			crop:      crop,
			yield:     round(standard*(0.6+r.Float64()*0.8), 6),
			standard:  round(standard, 6),

			station: r.IntN(5),
		}
	}
	return fields
}

func writeDB(path string, fields []field) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	for i := range fields {
		f := &fields[i]
		// The survey stores crop names under Annual_yield and yields under Crop_type.
		inserts := []struct {
			query string
			args  []any
		}{
			{`INSERT INTO geographic_features VALUES (?, ?, ?, ?, ?, ?)`,
				[]any{f.id, f.elevation, f.lat, f.lon, f.location, f.slope}},
			{`INSERT INTO weather_features VALUES (?, ?, ?, ?, ?)`,
				[]any{f.id, f.rainfall, f.minTemp, f.maxTemp, round((f.minTemp+f.maxTemp)/2, 2)}},
			{`INSERT INTO soil_and_crop_features VALUES (?, ?, ?, ?)`,
				[]any{f.id, f.fertility, f.soilType, f.ph}},
			{`INSERT INTO farm_management_features VALUES (?, ?, ?, ?, ?, ?)`,
				[]any{f.id, f.pollution, f.plotSize, f.crop, f.yield, f.standard}},
		}
		for _, ins := range inserts {
			if _, err := tx.ExecContext(ctx, ins.query, ins.args...); err != nil {
				return fmt.Errorf("insert field %d: %w", f.id, err)
			}
		}
	}

	return tx.Commit()
}

func writeMapping(path string, fields []field) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write([]string{"Field_ID", "Weather_station"}); err != nil {
		return err
	}
	for i := range fields {
		if err := w.Write([]string{strconv.Itoa(fields[i].id), strconv.Itoa(fields[i].station)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return out.Close()
}

type cropCount struct {
	crop  string
	count int
}

func printStats(fields []field) {
	misspellings := make(map[string]bool, len(typos))
	for _, typo := range typos {
		misspellings[typo] = true
	}

	var negative, misspelled int
	counts := map[string]int{}
	for i := range fields {
		if fields[i].elevation < 0 {
			negative++
		}
		if misspellings[fields[i].crop] {
			misspelled++
		}
		counts[fields[i].crop]++
	}

	cc := make([]cropCount, 0, len(counts))
	for c, n := range counts {
		cc = append(cc, cropCount{c, n})
	}
	sort.Slice(cc, func(i, j int) bool {
		if cc[i].count != cc[j].count {
			return cc[i].count > cc[j].count
		}
		return cc[i].crop < cc[j].crop
	})

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total fields: %d\n", len(fields))
	fmt.Printf("Negative elevations: %d\n", negative)
	fmt.Printf("Misspelled crops: %d\n", misspelled)
	fmt.Print("Crops: ")
	for _, c := range cc {
		fmt.Printf("%s=%d ", c.crop, c.count)
	}
	fmt.Println()
}

func round(v float64, places int) float64 {
	p, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	return p
}
