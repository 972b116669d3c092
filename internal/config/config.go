package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
)

// Built-in defaults match the Maji Ndogo farm survey.
const (
	DefaultDBPath = "sqlite:///Maji_Ndogo_farm_survey_small.db"

	DefaultSQLQuery = `SELECT *
FROM geographic_features
LEFT JOIN weather_features USING (Field_ID)
LEFT JOIN soil_and_crop_features USING (Field_ID)
LEFT JOIN farm_management_features USING (Field_ID)`

	DefaultWeatherMappingCSV = "https://raw.githubusercontent.com/Explore-AI/Public-Data/master/Maji_Ndogo/Weather_data_field_mapping.csv"

	defaultColumnsToRename = "Annual_yield:Crop_type"
	defaultValuesToRename  = "cassaval:cassava,wheatn:wheat,teaa:tea"
)

// Config holds all service settings, populated from an optional YAML file and
// environment variables.
type Config struct {
	DBPath            string
	SQLQuery          string
	ColumnsToRename   []domain.RenamePair
	ValuesToRename    map[string]string
	WeatherMappingCSV string

	ValueColumn string
	AbsColumn   string
	MergeKey    string

	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	ShutdownTimeout time.Duration
	PreviewRows     int

	WeatherFetchTimeout time.Duration
	WeatherCacheSize    int

	// Kafka sink configuration. The sink is disabled when KafkaBrokers is empty.
	KafkaBrokers   []string
	KafkaSinkTopic string
	KafkaKeyColumn string
}

// fileConfig is the YAML layout accepted through CONFIG_FILE. Keys follow the
// option names used by the original survey notebooks.
type fileConfig struct {
	DBPath            string            `yaml:"db_path"`
	SQLQuery          string            `yaml:"sql_query"`
	ColumnsToRename   orderedPairs      `yaml:"columns_to_rename"`
	ValuesToRename    map[string]string `yaml:"values_to_rename"`
	WeatherMappingCSV string            `yaml:"weather_mapping_csv"`
	LoggingLevel      string            `yaml:"logging_level"`
}

// orderedPairs decodes a YAML mapping while keeping its key order.
type orderedPairs []domain.RenamePair

func (p *orderedPairs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: columns_to_rename must be a mapping", value.Line)
	}
	pairs := make(orderedPairs, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		pairs = append(pairs, domain.RenamePair{
			From: value.Content[i].Value,
			To:   value.Content[i+1].Value,
		})
	}
	*p = pairs
	return nil
}

// Load reads configuration from CONFIG_FILE (if set) and environment
// variables, applying defaults where unset. Environment variables take
// precedence over the file.
func Load() (*Config, error) {
	fc := fileConfig{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		fc, err = loadFile(path)
		if err != nil {
			return nil, err
		}
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	weatherTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("WEATHER_FETCH_TIMEOUT", "30s"))
	if err != nil || weatherTimeout <= 0 {
		return nil, errors.New("invalid WEATHER_FETCH_TIMEOUT")
	}

	columns, err := columnsToRename(fc.ColumnsToRename)
	if err != nil {
		return nil, err
	}

	values, err := valuesToRename(fc.ValuesToRename)
	if err != nil {
		return nil, err
	}

	previewRows, err := parseNonNegative("PREVIEW_ROWS", 5)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		DBPath:            sharedcfg.EnvOrDefault("DB_PATH", orDefault(fc.DBPath, DefaultDBPath)),
		SQLQuery:          sharedcfg.EnvOrDefault("SQL_QUERY", orDefault(fc.SQLQuery, DefaultSQLQuery)),
		ColumnsToRename:   columns,
		ValuesToRename:    values,
		WeatherMappingCSV: sharedcfg.EnvOrDefault("WEATHER_MAPPING_CSV", orDefault(fc.WeatherMappingCSV, DefaultWeatherMappingCSV)),

		ValueColumn: sharedcfg.EnvOrDefault("VALUE_COLUMN", "Crop_type"),
		AbsColumn:   sharedcfg.EnvOrDefault("ABS_COLUMN", "Elevation"),
		MergeKey:    sharedcfg.EnvOrDefault("MERGE_KEY", "Field_ID"),

		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", orDefault(fc.LoggingLevel, "info"))),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		ShutdownTimeout: shutdownTimeout,
		PreviewRows:     previewRows,

		WeatherFetchTimeout: weatherTimeout,
		WeatherCacheSize:    parseWeatherCacheSize(),

		KafkaBrokers:   brokers,
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "field-survey-records"),
		KafkaKeyColumn: sharedcfg.EnvOrDefault("KAFKA_KEY_COLUMN", "Field_ID"),
	}

	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}
	if strings.TrimSpace(cfg.SQLQuery) == "" {
		return nil, errors.New("SQL_QUERY is required")
	}
	if len(cfg.ColumnsToRename) == 0 {
		return nil, errors.New("COLUMNS_TO_RENAME must name at least one pair")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// KafkaEnabled reports whether merged rows should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse CONFIG_FILE: %w", err)
	}
	return fc, nil
}

func columnsToRename(fromFile orderedPairs) ([]domain.RenamePair, error) {
	raw, ok := os.LookupEnv("COLUMNS_TO_RENAME")
	if !ok {
		if len(fromFile) > 0 {
			return fromFile, nil
		}
		raw = defaultColumnsToRename
	}
	kv, err := parsePairs("COLUMNS_TO_RENAME", raw)
	if err != nil {
		return nil, err
	}
	pairs := make([]domain.RenamePair, len(kv))
	for i, p := range kv {
		pairs[i] = domain.RenamePair{From: p[0], To: p[1]}
	}
	return pairs, nil
}

func valuesToRename(fromFile map[string]string) (map[string]string, error) {
	raw, ok := os.LookupEnv("VALUES_TO_RENAME")
	if !ok {
		if fromFile != nil {
			return fromFile, nil
		}
		raw = defaultValuesToRename
	}
	kv, err := parsePairs("VALUES_TO_RENAME", raw)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(kv))
	for _, p := range kv {
		m[p[0]] = p[1]
	}
	return m, nil
}

// parsePairs splits "a:b,c:d" into ordered key/value pairs.
func parsePairs(name, raw string) ([][2]string, error) {
	var out [][2]string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, ":")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid %s entry %q: want key:value", name, item)
		}
		out = append(out, [2]string{k, v})
	}
	return out, nil
}

func parseNonNegative(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func parseWeatherCacheSize() int {
	if s := os.Getenv("WEATHER_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 16
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
