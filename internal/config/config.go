package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/avstrong/bnb/internal/validation"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	BlobFS     = "fs"
	BlobGridFS = "gridfs"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the process configuration. The json tags name the environment keys and
// show up in validation messages.
type Config struct {
	Host        string        `json:"BNB_HOST"`
	Port        string        `json:"BNB_PORT"         validate:"required,numeric"`
	MetricsPort string        `json:"BNB_METRICS_PORT" validate:"omitempty,numeric"`
	LogLevel    string        `json:"BNB_LOG_LEVEL"    validate:"oneof=debug info warn error"`
	Store       string        `json:"BNB_STORE"        validate:"oneof=memory sqlite postgres"`
	SQLitePath  string        `json:"BNB_SQLITE_PATH"  validate:"required_if=Store sqlite"`
	PostgresDSN string        `json:"BNB_POSTGRES_DSN" validate:"required_if=Store postgres"`
	RedisAddr   string        `json:"BNB_REDIS_ADDR"   validate:"omitempty,hostname_port"`
	Blob        string        `json:"BNB_BLOB"         validate:"oneof=fs gridfs"`
	BlobDir     string        `json:"BNB_BLOB_DIR"     validate:"required_if=Blob fs"`
	MongoURI    string        `json:"BNB_MONGO_URI"    validate:"required_if=Blob gridfs"`
	MongoDB     string        `json:"BNB_MONGO_DB"     validate:"required_if=Blob gridfs"`
	PublicURL   string        `json:"BNB_PUBLIC_URL"   validate:"omitempty,url"`
	JWTSecret   string        `json:"BNB_JWT_SECRET"   validate:"required,min=16"`
	JWTTTL      time.Duration `json:"BNB_JWT_TTL"      validate:"gt=0"`
	CORSOrigins []string      `json:"BNB_CORS_ORIGINS"`
	RateLimit   float64       `json:"BNB_RATE_LIMIT"   validate:"gte=0"`
	RateBurst   int           `json:"BNB_RATE_BURST"   validate:"gte=0"`
	TraceStdout bool          `json:"BNB_TRACE_STDOUT"`
	Currency    string        `json:"BNB_CURRENCY"     validate:"len=3"`
	Seed        bool          `json:"BNB_SEED"`
}

// Load reads envFiles (missing files are skipped) into the environment and builds a
// Config from it. Variables already set win over the files.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}

		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary key lookup.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	//nolint:gomnd
	conf := &Config{
		Host:        r.str("BNB_HOST", "localhost"),
		Port:        r.str("BNB_PORT", "8092"),
		MetricsPort: r.str("BNB_METRICS_PORT", "9092"),
		LogLevel:    strings.ToLower(r.str("BNB_LOG_LEVEL", "info")),
		Store:       r.str("BNB_STORE", StoreMemory),
		SQLitePath:  r.str("BNB_SQLITE_PATH", "bnb.db"),
		PostgresDSN: r.str("BNB_POSTGRES_DSN", ""),
		RedisAddr:   r.str("BNB_REDIS_ADDR", ""),
		Blob:        r.str("BNB_BLOB", BlobFS),
		BlobDir:     r.str("BNB_BLOB_DIR", "media"),
		MongoURI:    r.str("BNB_MONGO_URI", ""),
		MongoDB:     r.str("BNB_MONGO_DB", "bnb"),
		PublicURL:   r.str("BNB_PUBLIC_URL", ""),
		JWTSecret:   r.str("BNB_JWT_SECRET", ""),
		JWTTTL:      r.duration("BNB_JWT_TTL", 24*time.Hour),
		CORSOrigins: r.list("BNB_CORS_ORIGINS", []string{"*"}),
		RateLimit:   r.float("BNB_RATE_LIMIT", 10),
		RateBurst:   r.int("BNB_RATE_BURST", 20),
		TraceStdout: r.bool("BNB_TRACE_STDOUT", false),
		Currency:    strings.ToUpper(r.str("BNB_CURRENCY", "USD")),
		Seed:        r.bool("BNB_SEED", false),
	}

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(r.errs...))
	}

	if conf.PublicURL == "" {
		conf.PublicURL = "http://" + conf.Host + ":" + conf.Port
	}

	if err := validation.New().Struct(conf); err != nil {
		if fields := validation.Fields(err); fields != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, fields)
		}

		return nil, fmt.Errorf("validate config: %w", err)
	}

	return conf, nil
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)

	return v, ok && v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}

	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
	}

	return d
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
	}

	return f
}

func (r *reader) int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
	}

	return n
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
	}

	return b
}

func (r *reader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}

	var out []string

	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}
