package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ElishaAz/VR-Navigation/pkg/logging"
	"github.com/ElishaAz/VR-Navigation/pkg/pkgstore"
	"github.com/ElishaAz/VR-Navigation/pkg/resource"
	"github.com/ElishaAz/VR-Navigation/pkg/tour"
)

const (
	defaultAddr             = "127.0.0.1:8095"
	defaultActionsPerSecond = tour.DefaultActionsPerSecond
	minActionsPerSecond     = 1
	maxActionsPerSecond     = 100
)

type Config struct {
	DataDir          string
	MapsDir          string
	ScratchDir       string
	DBPath           string
	ExportsDir       string // empty disables trip CSV export
	RedisURL         string
	Addr             string
	Policy           tour.Policy
	ActionsPerSecond float64
	MaxDecodes       int64
	Duplicates       pkgstore.DuplicatePolicy
	LogLevel         slog.Level
	LogFormat        string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	dataDir := envOrDefault("VRNAV_DATA_DIR", filepath.Join(cwd, "vrnav-data"))
	dbPath := os.Getenv("VRNAV_DB_PATH")
	exportsDir := os.Getenv("VRNAV_EXPORTS_DIR")
	redisURL := os.Getenv("VRNAV_REDIS_URL")
	addr := envOrDefault("VRNAV_ADDR", defaultAddr)
	policy := envOrDefault("VRNAV_POLICY", string(tour.PreloadCurrent))
	duplicates := envOrDefault("VRNAV_DUPLICATES", string(pkgstore.Reject))
	logLevel := envOrDefault("VRNAV_LOG_LEVEL", "info")
	logFormat := envOrDefault("VRNAV_LOG_FORMAT", "text")

	actionsPerSecond := float64(defaultActionsPerSecond)
	if v := os.Getenv("VRNAV_ACTIONS_PER_SECOND"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VRNAV_ACTIONS_PER_SECOND: %w", err)
		}
		actionsPerSecond = parsed
	}
	maxDecodes := int64(resource.DefaultMaxDecodes)
	if v := os.Getenv("VRNAV_MAX_DECODES"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VRNAV_MAX_DECODES: %w", err)
		}
		maxDecodes = parsed
	}

	flagSet := flag.NewFlagSet("vrnav-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagData := flagSet.String("data", dataDir, "data directory holding maps/ and tmp/")
	flagDB := flagSet.String("db", dbPath, "path to the SQLite trip log (default <data>/vrnav.db)")
	flagExports := flagSet.String("exports", exportsDir, "directory for trip CSVs of ended sessions (default <data>/exports, \"off\" disables)")
	flagRedis := flagSet.String("redis", redisURL, "Redis URL; when set the trip log is kept in Redis")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagPolicy := flagSet.String("policy", policy, "default cache policy")
	flagRate := flagSet.Float64("actions-per-second", actionsPerSecond, "throttled cache actions per second (1-100)")
	flagDecodes := flagSet.Int64("max-decodes", maxDecodes, "concurrent image decodes per session")
	flagDuplicates := flagSet.String("duplicates", duplicates, "duplicate import handling: reject|overwrite")
	flagLogLevel := flagSet.String("log-level", logLevel, "log level: debug|info|warn|error")
	flagLogFormat := flagSet.String("log-format", logFormat, "log format: text|json")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	config := Config{
		DataDir:          resolvePath(*flagData, cwd),
		RedisURL:         strings.TrimSpace(*flagRedis),
		Addr:             strings.TrimSpace(*flagAddr),
		ActionsPerSecond: *flagRate,
		MaxDecodes:       *flagDecodes,
		LogFormat:        strings.ToLower(strings.TrimSpace(*flagLogFormat)),
	}
	if config.DataDir == "" {
		return Config{}, errors.New("data directory cannot be empty")
	}
	config.MapsDir = filepath.Join(config.DataDir, "maps")
	config.ScratchDir = filepath.Join(config.DataDir, "tmp", "extracted")
	config.DBPath = resolvePath(*flagDB, cwd)
	if config.DBPath == "" {
		config.DBPath = filepath.Join(config.DataDir, "vrnav.db")
	}
	switch exports := strings.TrimSpace(*flagExports); exports {
	case "off":
	case "":
		config.ExportsDir = filepath.Join(config.DataDir, "exports")
	default:
		config.ExportsDir = resolvePath(exports, cwd)
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.Policy, err = tour.ParsePolicy(strings.TrimSpace(*flagPolicy)); err != nil {
		return Config{}, err
	}
	if config.Duplicates, err = pkgstore.ParseDuplicatePolicy(strings.TrimSpace(*flagDuplicates)); err != nil {
		return Config{}, err
	}
	if config.LogLevel, err = logging.ParseLevel(*flagLogLevel); err != nil {
		return Config{}, err
	}
	if config.LogFormat != "text" && config.LogFormat != "json" {
		return Config{}, fmt.Errorf("unsupported log format: %s", config.LogFormat)
	}
	if config.ActionsPerSecond < minActionsPerSecond || config.ActionsPerSecond > maxActionsPerSecond {
		return Config{}, fmt.Errorf("actions per second must be between %d and %d", minActionsPerSecond, maxActionsPerSecond)
	}
	if config.MaxDecodes < 1 {
		return Config{}, errors.New("max decodes must be positive")
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
