package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "KAS_"

// Loader builds a Config from defaults, dotenv files, an optional config
// file and environment variables, in that order.
type Loader struct {
	// File is a .yaml, .yml, .json or .jsonc file, empty skips it
	File string
	// EnvFiles are dotenv files, missing ones are ignored
	EnvFiles []string
	// Lookup reads the process environment, it wins over dotenv values
	Lookup func(key string) (string, bool)
}

func NewLoader(file string, envFiles ...string) *Loader {
	return &Loader{
		File:     file,
		EnvFiles: envFiles,
		Lookup:   os.LookupEnv,
	}
}

// Load reads and validates the configuration
func Load(file string, envFiles ...string) (*Config, error) {
	return NewLoader(file, envFiles...).Load()
}

func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	dotenv := map[string]string{}
	for _, path := range l.EnvFiles {
		values, err := godotenv.Read(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read env file").
				WithMetadata(map[string]any{"path": path})
		}
		for k, v := range values {
			if _, seen := dotenv[k]; !seen {
				dotenv[k] = v
			}
		}
	}

	lookup := func(key string) (string, bool) {
		if l.Lookup != nil {
			if v, ok := l.Lookup(key); ok {
				return v, true
			}
		}
		v, ok := dotenv[key]
		return v, ok
	}

	file := l.File
	if file == "" {
		file, _ = lookup(EnvPrefix + "CONFIG")
	}
	if file != "" {
		if err := decodeFile(file, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config file").
			WithMetadata(map[string]any{"path": path})
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, cfg)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(raw), cfg)
	default:
		return goerrors.New(fmt.Sprintf("unsupported config format %q", filepath.Ext(path)), goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"path": path})
	}
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config file").
			WithMetadata(map[string]any{"path": path})
	}
	return nil
}

// applyEnv applies KAS_* overrides. JWT_SECRET is honoured when
// KAS_JWT_SECRET is not set.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	var errs []string
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, EnvPrefix+key)
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, EnvPrefix+key)
				return
			}
			*dst = n
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			out := []string{}
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			*dst = out
		}
	}

	if v, ok := lookup("JWT_SECRET"); ok {
		cfg.Auth.SigningKey = v
	}

	str("ENV", &cfg.Env)
	boolean("DEBUG", &cfg.Debug)
	str("ADDR", &cfg.Server.Addr)
	list("CORS_ORIGINS", &cfg.Server.CORSOrigins)
	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_DSN", &cfg.Database.DSN)
	integer("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	boolean("DB_MIGRATE", &cfg.Database.Migrate)
	str("JWT_SECRET", &cfg.Auth.SigningKey)
	str("SIGNING_METHOD", &cfg.Auth.SigningMethod)
	str("COOKIE_HASH_KEY", &cfg.Auth.CookieHashKey)
	boolean("COOKIE_SECURE", &cfg.Auth.CookieSecure)
	integer("TOKEN_EXPIRATION", &cfg.Auth.TokenExpiration)
	integer("EXTENDED_TOKEN_DURATION", &cfg.Auth.ExtendedTokenDuration)
	integer("ADMIN_TOKEN_EXPIRATION", &cfg.Auth.AdminTokenExpiration)
	boolean("ALLOW_REGISTRATION", &cfg.Auth.AllowRegistration)
	str("CRON_SECRET", &cfg.Cron.Secret)
	str("ADMIN_USERNAME", &cfg.Seed.AdminUsername)
	str("ADMIN_PASSWORD", &cfg.Seed.AdminPassword)
	str("ADMIN_FULL_NAME", &cfg.Seed.AdminFullName)

	if len(errs) > 0 {
		return goerrors.New("invalid environment overrides", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"keys": errs})
	}
	return nil
}
