package config

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/goliatone/go-kas/auth"
	"github.com/goliatone/go-kas/persistence"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the application configuration, it satisfies auth.Config
type Config struct {
	Env      string         `yaml:"env" json:"env"`
	Debug    bool           `yaml:"debug" json:"debug"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Cron     CronConfig     `yaml:"cron" json:"cron"`
	Seed     SeedConfig     `yaml:"seed" json:"seed"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" json:"addr"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" json:"driver"`
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	Migrate      bool   `yaml:"migrate" json:"migrate"`
}

type AuthConfig struct {
	SigningKey            string            `yaml:"signing_key" json:"signing_key"`
	SigningMethod         string            `yaml:"signing_method" json:"signing_method"`
	SigningKeyID          string            `yaml:"signing_key_id" json:"signing_key_id"`
	VerificationKeys      map[string]string `yaml:"verification_keys" json:"verification_keys"`
	ContextKey            string            `yaml:"context_key" json:"context_key"`
	TokenCookieName       string            `yaml:"token_cookie_name" json:"token_cookie_name"`
	SessionCookieName     string            `yaml:"session_cookie_name" json:"session_cookie_name"`
	CookieHashKey         string            `yaml:"cookie_hash_key" json:"cookie_hash_key"`
	CookieSecure          bool              `yaml:"cookie_secure" json:"cookie_secure"`
	TokenExpiration       int               `yaml:"token_expiration" json:"token_expiration"`
	ExtendedTokenDuration int               `yaml:"extended_token_duration" json:"extended_token_duration"`
	AdminTokenExpiration  int               `yaml:"admin_token_expiration" json:"admin_token_expiration"`
	TokenLookup           string            `yaml:"token_lookup" json:"token_lookup"`
	AuthScheme            string            `yaml:"auth_scheme" json:"auth_scheme"`
	Issuer                string            `yaml:"issuer" json:"issuer"`
	Audience              []string          `yaml:"audience" json:"audience"`
	AllowRegistration     bool              `yaml:"allow_registration" json:"allow_registration"`
}

// CronConfig guards the weekly generation endpoint, an empty secret
// disables it.
type CronConfig struct {
	Secret string `yaml:"secret" json:"secret"`
}

// SeedConfig creates the first admin account when set
type SeedConfig struct {
	AdminUsername string `yaml:"admin_username" json:"admin_username"`
	AdminPassword string `yaml:"admin_password" json:"admin_password"`
	AdminFullName string `yaml:"admin_full_name" json:"admin_full_name"`
}

// Defaults returns a configuration usable for local development
func Defaults() *Config {
	return &Config{
		Env: EnvDevelopment,
		Server: ServerConfig{
			Addr: ":8572",
		},
		Database: DatabaseConfig{
			Driver:  persistence.DriverSQLite,
			DSN:     "file:kas.db?cache=shared",
			Migrate: true,
		},
		Auth: AuthConfig{
			SigningMethod:         "HS256",
			ContextKey:            "jwt",
			TokenCookieName:       "auth_token",
			SessionCookieName:     "session_id",
			TokenExpiration:       24,
			ExtendedTokenDuration: 72,
			AdminTokenExpiration:  8,
			TokenLookup:           "header:Authorization,cookie:auth_token",
			AuthScheme:            "Bearer",
			Issuer:                "go-kas",
			Audience:              []string{"kas:api"},
		},
		Seed: SeedConfig{
			AdminFullName: "Administrator",
		},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == EnvDevelopment || c.Env == EnvTest
}

func (c *Config) Validate() error {
	keyRules := []validation.Rule{validation.Required}
	if !c.IsDevelopment() {
		keyRules = append(keyRules, validation.Length(32, 0))
	}

	var seedRules []validation.Rule
	if c.Seed.AdminUsername != "" {
		seedRules = append(seedRules, validation.Required, validation.Length(6, 100))
	}

	return validation.Errors{
		"env": validation.Validate(c.Env, validation.In(EnvDevelopment, EnvProduction, EnvTest)),
		"server.addr": validation.Validate(c.Server.Addr, validation.Required),
		"database.driver": validation.Validate(persistence.NormalizeDriver(c.Database.Driver),
			validation.Required, validation.In(persistence.DriverSQLite, persistence.DriverPostgres)),
		"database.dsn":        validation.Validate(c.Database.DSN, validation.Required),
		"auth.signing_key":    validation.Validate(c.Auth.SigningKey, keyRules...),
		"auth.signing_method": validation.Validate(strings.ToUpper(c.Auth.SigningMethod), validation.In("HS256", "HS384", "HS512")),
		"seed.admin_password": validation.Validate(c.Seed.AdminPassword, seedRules...),
	}.Filter()
}

var _ auth.Config = (*Config)(nil)

func (c *Config) GetSigningKey() string                  { return c.Auth.SigningKey }
func (c *Config) GetSigningMethod() string               { return c.Auth.SigningMethod }
func (c *Config) GetSigningKeyID() string                { return c.Auth.SigningKeyID }
func (c *Config) GetVerificationKeys() map[string]string { return c.Auth.VerificationKeys }
func (c *Config) GetContextKey() string                  { return c.Auth.ContextKey }
func (c *Config) GetTokenCookieName() string             { return c.Auth.TokenCookieName }
func (c *Config) GetSessionCookieName() string           { return c.Auth.SessionCookieName }
func (c *Config) GetCookieSecure() bool                  { return c.Auth.CookieSecure }
func (c *Config) GetTokenExpiration() int                { return c.Auth.TokenExpiration }
func (c *Config) GetExtendedTokenDuration() int          { return c.Auth.ExtendedTokenDuration }
func (c *Config) GetAdminTokenExpiration() int           { return c.Auth.AdminTokenExpiration }
func (c *Config) GetTokenLookup() string                 { return c.Auth.TokenLookup }
func (c *Config) GetAuthScheme() string                  { return c.Auth.AuthScheme }
func (c *Config) GetIssuer() string                      { return c.Auth.Issuer }
func (c *Config) GetAudience() []string                  { return c.Auth.Audience }
func (c *Config) GetAllowRegistration() bool             { return c.Auth.AllowRegistration }

// GetCookieHashKey falls back to the signing key
func (c *Config) GetCookieHashKey() string {
	if c.Auth.CookieHashKey != "" {
		return c.Auth.CookieHashKey
	}
	return c.Auth.SigningKey
}

func (c *Config) GetCronSecret() string { return c.Cron.Secret }

func (c *Config) PersistenceOptions() persistence.Options {
	return persistence.Options{
		MaxOpenConns: c.Database.MaxOpenConns,
		MaxIdleConns: c.Database.MaxIdleConns,
		Debug:        c.Debug,
	}
}
