package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int
	KafkaRawTopic string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int
	AsynqEnabled     bool

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64

	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	// SourceTZOffsets maps a source category to its civil offset ("-03:00").
	SourceTZOffsets       map[string]string
	DefaultSourceTZOffset string
	RCJToleranceMinutes   int
	RCJTargetPercent      float64
	KPIWindowDays         int
	OpsHorizonHours       int
	SnapshotIntervalSec   int
	SnapshotLockTTLSec    int
	IngestWorkers         int
	IngestMaxBodyMB       int
	NameDuplicateDistance int
}

// keys lists every setting read from the environment, in the order they are applied.
var keys = []string{
	"SERVICE_NAME", "HTTP_PORT", "LOG_LEVEL", "REQUEST_TIMEOUT_MS",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONN_MAX_IDLE_SECONDS", "DB_CONN_MAX_LIFETIME_SECONDS",
	"KAFKA_BROKERS", "KAFKA_CLIENT_ID", "KAFKA_GROUP_ID", "KAFKA_RETRY_MAX", "KAFKA_WRITE_TIMEOUT_MS", "KAFKA_RAW_TOPIC",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"ASYNQ_REDIS_ADDR", "ASYNQ_REDIS_PASSWORD", "ASYNQ_REDIS_DB", "ASYNQ_QUEUE", "ASYNQ_CONCURRENCY", "ASYNQ_ENABLED",
	"OUTBOX_SCAN_INTERVAL_SECONDS", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_ATTEMPTS",
	"INFLUX_URL", "INFLUX_TOKEN", "INFLUX_ORG", "INFLUX_BUCKET", "INFLUX_TIMEOUT_MS",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SAMPLE_RATIO",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"SOURCE_TZ_OFFSETS", "DEFAULT_SOURCE_TZ_OFFSET",
	"RCJ_TOLERANCE_MINUTES", "RCJ_TARGET_PERCENT", "KPI_WINDOW_DAYS",
	"OPS_HORIZON_HOURS", "SNAPSHOT_INTERVAL_SECONDS", "SNAPSHOT_LOCK_TTL_SECONDS",
	"INGEST_WORKERS", "INGEST_MAX_BODY_MB", "NAME_DUPLICATE_DISTANCE",
}

func defaults(serviceName string, httpPort int) Config {
	return Config{
		ServiceName:           serviceName,
		HTTPPort:              httpPort,
		LogLevel:              "info",
		RequestTimeoutMS:      30000,
		DBMaxConns:            10,
		DBMinConns:            1,
		DBConnMaxIdleSec:      300,
		DBConnMaxLifeSec:      1800,
		KafkaRetryMax:         5,
		KafkaWriteMS:          5000,
		KafkaRawTopic:         "portcall.raw",
		AsynqQueue:            "default",
		AsynqConcurrency:      10,
		OutboxScanSec:         5,
		OutboxBatchSize:       50,
		OutboxMaxAttempts:     20,
		InfluxTimeoutMS:       5000,
		OtelInsecure:          true,
		OtelSampleRatio:       1.0,
		RateLimitRPS:          20,
		RateLimitBurst:        40,
		SourceTZOffsets:       map[string]string{},
		DefaultSourceTZOffset: "-03:00",
		RCJToleranceMinutes:   30,
		RCJTargetPercent:      85,
		KPIWindowDays:         30,
		OpsHorizonHours:       24,
		SnapshotIntervalSec:   300,
		SnapshotLockTTLSec:    60,
		IngestWorkers:         4,
		IngestMaxBodyMB:       32,
		NameDuplicateDistance: 2,
	}
}

// Load layers defaults, an optional JSON or YAML file and the environment,
// in that order. Bad values are reported as problems and replaced by defaults.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	explicitPath := strings.TrimSpace(os.Getenv("CONFIG_PATH"))

	cfg := defaults(serviceNameDefault, httpPortDefault)
	cfg.Env = envRaw
	cfg.ConfigPath = explicitPath

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if cfg.ConfigPath == "" && cfg.Env != "" {
		if path, ok := findConfigFile(cfg.Env); ok {
			cfg.ConfigPath = path
		}
	}

	fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, explicitPath != "")
	problems = append(problems, fileProblems...)
	if ok {
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	}

	applyEnv(&cfg, &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	validate(&cfg, httpPortDefault, &problems)
	return cfg, problems
}

func validate(cfg *Config, httpPortDefault int, problems *[]Problem) {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	positive(problems, "REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, 30000)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond

	positive(problems, "DB_MAX_CONNS", &cfg.DBMaxConns, 10)
	nonNegative(problems, "DB_MIN_CONNS", &cfg.DBMinConns, 1)
	if cfg.DBMinConns > cfg.DBMaxConns {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	positive(problems, "DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, 300)
	positive(problems, "DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, 1800)

	nonNegative(problems, "KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, 5)
	positive(problems, "KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, 5000)
	if strings.TrimSpace(cfg.KafkaRawTopic) == "" {
		*problems = append(*problems, Problem{Field: "KAFKA_RAW_TOPIC", Message: "KAFKA_RAW_TOPIC must not be empty"})
		cfg.KafkaRawTopic = "portcall.raw"
	}

	nonNegative(problems, "REDIS_DB", &cfg.RedisDB, 0)
	nonNegative(problems, "ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, 0)
	positive(problems, "ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, 10)
	positive(problems, "OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec, 5)
	positive(problems, "OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize, 50)
	positive(problems, "OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts, 20)
	positive(problems, "INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, 5000)

	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
	if cfg.RateLimitRPS <= 0 {
		*problems = append(*problems, Problem{Field: "RATE_LIMIT_RPS", Message: "RATE_LIMIT_RPS must be > 0"})
		cfg.RateLimitRPS = 20
	}
	positive(problems, "RATE_LIMIT_BURST", &cfg.RateLimitBurst, 40)

	for cat, off := range cfg.SourceTZOffsets {
		if !validOffset(off) {
			*problems = append(*problems, Problem{Field: "SOURCE_TZ_OFFSETS", Message: fmt.Sprintf("offset for %s must look like -03:00", cat)})
			delete(cfg.SourceTZOffsets, cat)
		}
	}
	if !validOffset(cfg.DefaultSourceTZOffset) {
		*problems = append(*problems, Problem{Field: "DEFAULT_SOURCE_TZ_OFFSET", Message: "DEFAULT_SOURCE_TZ_OFFSET must look like -03:00"})
		cfg.DefaultSourceTZOffset = "-03:00"
	}
	nonNegative(problems, "RCJ_TOLERANCE_MINUTES", &cfg.RCJToleranceMinutes, 30)
	if cfg.RCJTargetPercent < 0 || cfg.RCJTargetPercent > 100 {
		*problems = append(*problems, Problem{Field: "RCJ_TARGET_PERCENT", Message: "RCJ_TARGET_PERCENT must be 0-100"})
		cfg.RCJTargetPercent = 85
	}
	positive(problems, "KPI_WINDOW_DAYS", &cfg.KPIWindowDays, 30)
	positive(problems, "OPS_HORIZON_HOURS", &cfg.OpsHorizonHours, 24)
	positive(problems, "SNAPSHOT_INTERVAL_SECONDS", &cfg.SnapshotIntervalSec, 300)
	positive(problems, "SNAPSHOT_LOCK_TTL_SECONDS", &cfg.SnapshotLockTTLSec, 60)
	positive(problems, "INGEST_WORKERS", &cfg.IngestWorkers, 4)
	positive(problems, "INGEST_MAX_BODY_MB", &cfg.IngestMaxBodyMB, 32)
	nonNegative(problems, "NAME_DUPLICATE_DISTANCE", &cfg.NameDuplicateDistance, 2)
}

func positive(problems *[]Problem, field string, v *int, def int) {
	if *v <= 0 {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be > 0"})
		*v = def
	}
}

func nonNegative(problems *[]Problem, field string, v *int, def int) {
	if *v < 0 {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be >= 0"})
		*v = def
	}
}

func validOffset(s string) bool {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "z") || strings.EqualFold(s, "utc") {
		return true
	}
	if len(s) < 2 || (s[0] != '+' && s[0] != '-') {
		return false
	}
	digits := strings.ReplaceAll(s[1:], ":", "")
	if len(digits) != 2 && len(digits) != 4 {
		return false
	}
	_, err := strconv.Atoi(digits)
	return err == nil
}

// findConfigFile walks up from the working directory looking for
// configs/<env>.json, .yaml or .yml.
func findConfigFile(env string) (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 8; i++ {
		for _, ext := range []string{".json", ".yaml", ".yml"} {
			candidate := filepath.Join(dir, "configs", env+ext)
			if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if !explicit {
			return nil, nil, false
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid yaml: %v", err)}}, false
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
		}
	}
	return raw, nil, true
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	// sorted so that problems come out in a stable order
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "ENV" {
			if s, ok := raw[k].(string); ok {
				cfg.Env = strings.TrimSpace(s)
			}
			continue
		}
		set(cfg, key, raw[k], problems)
	}
}

func applyEnv(cfg *Config, problems *[]Problem) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			set(cfg, key, v, problems)
		}
	}
}

// set assigns one key. v is a string when read from the environment and
// whatever the decoder produced when read from a file.
func set(cfg *Config, key string, v any, problems *[]Problem) {
	str := func(dst *string) {
		if s, ok := v.(string); ok {
			*dst = strings.TrimSpace(s)
		}
	}
	integer := func(dst *int) {
		if i, ok := asInt(v); ok {
			*dst = i
			return
		}
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
	}
	float := func(dst *float64) {
		if f, ok := asFloat(v); ok {
			*dst = f
			return
		}
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
	}
	boolean := func(dst *bool) {
		if b, ok := asAnyBool(v); ok {
			*dst = b
			return
		}
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
	}
	list := func(dst *[]string) {
		switch t := v.(type) {
		case string:
			*dst = parseCSV(t)
		case []any:
			*dst = parseAnyCSV(t)
		default:
			*problems = append(*problems, Problem{Field: key, Message: key + " must be a list"})
		}
	}

	switch key {
	case "SERVICE_NAME":
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			cfg.ServiceName = strings.TrimSpace(s)
		}
	case "HTTP_PORT":
		p, ok := asInt(v)
		if !ok || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	case "LOG_LEVEL":
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			cfg.LogLevel = strings.TrimSpace(s)
		}
	case "REQUEST_TIMEOUT_MS":
		integer(&cfg.RequestTimeoutMS)
	case "DATABASE_URL":
		str(&cfg.DatabaseURL)
	case "DB_MAX_CONNS":
		integer(&cfg.DBMaxConns)
	case "DB_MIN_CONNS":
		integer(&cfg.DBMinConns)
	case "DB_CONN_MAX_IDLE_SECONDS":
		integer(&cfg.DBConnMaxIdleSec)
	case "DB_CONN_MAX_LIFETIME_SECONDS":
		integer(&cfg.DBConnMaxLifeSec)
	case "KAFKA_BROKERS":
		list(&cfg.KafkaBrokers)
	case "KAFKA_CLIENT_ID":
		str(&cfg.KafkaClientID)
	case "KAFKA_GROUP_ID":
		str(&cfg.KafkaGroupID)
	case "KAFKA_RETRY_MAX":
		integer(&cfg.KafkaRetryMax)
	case "KAFKA_WRITE_TIMEOUT_MS":
		integer(&cfg.KafkaWriteMS)
	case "KAFKA_RAW_TOPIC":
		str(&cfg.KafkaRawTopic)
	case "REDIS_ADDR":
		str(&cfg.RedisAddr)
	case "REDIS_PASSWORD":
		str(&cfg.RedisPassword)
	case "REDIS_DB":
		integer(&cfg.RedisDB)
	case "ASYNQ_REDIS_ADDR":
		str(&cfg.AsynqRedisAddr)
	case "ASYNQ_REDIS_PASSWORD":
		str(&cfg.AsynqRedisPass)
	case "ASYNQ_REDIS_DB":
		integer(&cfg.AsynqRedisDB)
	case "ASYNQ_QUEUE":
		str(&cfg.AsynqQueue)
	case "ASYNQ_CONCURRENCY":
		integer(&cfg.AsynqConcurrency)
	case "ASYNQ_ENABLED":
		boolean(&cfg.AsynqEnabled)
	case "OUTBOX_SCAN_INTERVAL_SECONDS":
		integer(&cfg.OutboxScanSec)
	case "OUTBOX_BATCH_SIZE":
		integer(&cfg.OutboxBatchSize)
	case "OUTBOX_MAX_ATTEMPTS":
		integer(&cfg.OutboxMaxAttempts)
	case "INFLUX_URL":
		str(&cfg.InfluxURL)
	case "INFLUX_TOKEN":
		str(&cfg.InfluxToken)
	case "INFLUX_ORG":
		str(&cfg.InfluxOrg)
	case "INFLUX_BUCKET":
		str(&cfg.InfluxBucket)
	case "INFLUX_TIMEOUT_MS":
		integer(&cfg.InfluxTimeoutMS)
	case "OTEL_ENABLED":
		boolean(&cfg.OtelEnabled)
	case "OTEL_EXPORTER_OTLP_ENDPOINT":
		str(&cfg.OtelEndpoint)
	case "OTEL_EXPORTER_OTLP_INSECURE":
		boolean(&cfg.OtelInsecure)
	case "OTEL_SAMPLE_RATIO":
		float(&cfg.OtelSampleRatio)
	case "CORS_ORIGINS":
		list(&cfg.CORSOrigins)
	case "RATE_LIMIT_RPS":
		float(&cfg.RateLimitRPS)
	case "RATE_LIMIT_BURST":
		integer(&cfg.RateLimitBurst)
	case "SOURCE_TZ_OFFSETS":
		offsets, ok := parseOffsets(v)
		if !ok {
			*problems = append(*problems, Problem{Field: key, Message: "SOURCE_TZ_OFFSETS must be category=offset pairs"})
			return
		}
		for cat, off := range offsets {
			cfg.SourceTZOffsets[cat] = off
		}
	case "DEFAULT_SOURCE_TZ_OFFSET":
		str(&cfg.DefaultSourceTZOffset)
	case "RCJ_TOLERANCE_MINUTES":
		integer(&cfg.RCJToleranceMinutes)
	case "RCJ_TARGET_PERCENT":
		float(&cfg.RCJTargetPercent)
	case "KPI_WINDOW_DAYS":
		integer(&cfg.KPIWindowDays)
	case "OPS_HORIZON_HOURS":
		integer(&cfg.OpsHorizonHours)
	case "SNAPSHOT_INTERVAL_SECONDS":
		integer(&cfg.SnapshotIntervalSec)
	case "SNAPSHOT_LOCK_TTL_SECONDS":
		integer(&cfg.SnapshotLockTTLSec)
	case "INGEST_WORKERS":
		integer(&cfg.IngestWorkers)
	case "INGEST_MAX_BODY_MB":
		integer(&cfg.IngestMaxBodyMB)
	case "NAME_DUPLICATE_DISTANCE":
		integer(&cfg.NameDuplicateDistance)
	}
}

// parseOffsets accepts "esperados=-03:00,atracados=-03:00" or, from a
// file, a mapping of category to offset.
func parseOffsets(v any) (map[string]string, bool) {
	out := map[string]string{}
	switch t := v.(type) {
	case string:
		for _, pair := range parseCSV(t) {
			cat, off, ok := strings.Cut(pair, "=")
			cat, off = strings.ToLower(strings.TrimSpace(cat)), strings.TrimSpace(off)
			if !ok || cat == "" || off == "" {
				return nil, false
			}
			out[cat] = off
		}
	case map[string]any:
		for cat, raw := range t {
			off, ok := raw.(string)
			if !ok {
				return nil, false
			}
			out[strings.ToLower(strings.TrimSpace(cat))] = strings.TrimSpace(off)
		}
	default:
		return nil, false
	}
	return out, true
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asAnyBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return asBool(t)
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
