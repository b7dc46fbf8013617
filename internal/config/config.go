package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Topic queries polled against the search API.
	Queries []string

	// Bluesky session credentials.
	BskyHost string
	BskyUser string
	BskyPass string

	// Fetch window: either an explicit Since/Until pair or a rolling Range
	// ending at startup time.
	Since time.Time
	Until time.Time
	Range time.Duration

	// RequestLimit search calls are budgeted per TimeWindow, divided evenly
	// across queries.
	RequestLimit int
	TimeWindow   time.Duration

	// Enrichment.
	MinWords  int
	ModelPath string // ONNX classification model; empty selects the keyword classifier

	// Geocoding.
	GeocodeURL        string
	GeocodeAPIKey     string
	GeocodeEnabled    bool
	GeocodeTimeout    time.Duration
	GeocodeInFlight   int
	FuzzyThreshold    float64
	CitiesSeedFile    string
	StoreLocationTier bool

	// Durable store.
	StoreURL  string
	StoreUser string
	StorePass string

	// Pipeline.
	QueueSize int
	Workers   int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is honored if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	queries := splitList(os.Getenv("QUERIES"))
	if len(queries) == 0 {
		return nil, errors.New("QUERIES is required")
	}

	since, until, err := parseWindow()
	if err != nil {
		return nil, err
	}

	geocodeKey := os.Getenv("GEOCODE_API_KEY")
	geocodeEnabled := geocodeKey != ""
	if v := os.Getenv("GEOCODE_ENABLED"); v != "" {
		geocodeEnabled = v == "true"
	}

	cfg := &Config{
		Queries: queries,

		BskyHost: envOrDefault("BSKY_HOST", "https://bsky.social"),
		BskyUser: os.Getenv("BSKY_USER"),
		BskyPass: os.Getenv("BSKY_PASS"),

		Since: since,
		Until: until,

		GeocodeURL:        envOrDefault("GEOCODE_URL", "https://geocode.search.hereapi.com/v1/geocode"),
		GeocodeAPIKey:     geocodeKey,
		GeocodeEnabled:    geocodeEnabled,
		CitiesSeedFile:    os.Getenv("CITIES_SEED_FILE"),
		StoreLocationTier: envOrDefault("STORE_LOCATION_TIER", "true") == "true",

		StoreURL:  os.Getenv("STORE_URL"),
		StoreUser: os.Getenv("STORE_USER"),
		StorePass: os.Getenv("STORE_PASSWORD"),

		ModelPath: os.Getenv("MODEL_PATH"),

		HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
	}

	if cfg.Range, err = durationOrDefault("RANGE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.TimeWindow, err = durationOrDefault("TIME_WINDOW", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.GeocodeTimeout, err = durationOrDefault("GEOCODE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.RequestLimit, err = intOrDefault("REQUEST_LIMIT", 3000); err != nil {
		return nil, err
	}
	if cfg.MinWords, err = intOrDefault("MIN_WORDS", 8); err != nil {
		return nil, err
	}
	if cfg.GeocodeInFlight, err = intOrDefault("MAX_GEOCODE_IN_FLIGHT", 5); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = intOrDefault("QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.Workers, err = intOrDefault("WORKERS", 1); err != nil {
		return nil, err
	}

	if cfg.FuzzyThreshold, err = floatOrDefault("FUZZY_THRESHOLD", 0.85); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BskyUser == "" || c.BskyPass == "" {
		return errors.New("BSKY_USER and BSKY_PASS are required")
	}
	if c.StoreURL == "" {
		return errors.New("STORE_URL is required")
	}
	if c.GeocodeEnabled && c.GeocodeAPIKey == "" {
		return errors.New("GEOCODE_ENABLED is true but GEOCODE_API_KEY is not set")
	}
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 1 {
		return errors.New("FUZZY_THRESHOLD must be in [0, 1]")
	}
	if c.RequestLimit <= 0 {
		return errors.New("REQUEST_LIMIT must be positive")
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return errors.New("WORKERS and QUEUE_SIZE must be positive")
	}
	return nil
}

// parseWindow reads SINCE and UNTIL, which must be set together or not at
// all. When unset, the fetch loop derives a rolling window from RANGE.
func parseWindow() (since, until time.Time, err error) {
	sinceStr, untilStr := os.Getenv("SINCE"), os.Getenv("UNTIL")
	if (sinceStr == "") != (untilStr == "") {
		return time.Time{}, time.Time{}, errors.New("SINCE and UNTIL must be set together")
	}
	if sinceStr == "" {
		return time.Time{}, time.Time{}, nil
	}
	if since, err = time.Parse(time.RFC3339, sinceStr); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid SINCE: %w", err)
	}
	if until, err = time.Parse(time.RFC3339, untilStr); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid UNTIL: %w", err)
	}
	return since.UTC(), until.UTC(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOrDefault(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func intOrDefault(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func floatOrDefault(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}
