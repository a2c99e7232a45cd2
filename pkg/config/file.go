package config

import (
	"bytes"
	"errors"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors APIConfig as a YAML document. Zero values leave the
// default in place.
type fileConfig struct {
	Environment string `yaml:"environment"`
	Addr        string `yaml:"addr"`
	LogLevel    string `yaml:"log_level"`

	Database struct {
		URL           string `yaml:"url"`
		MigrationsDir string `yaml:"migrations_dir"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
		BcryptCost      int    `yaml:"bcrypt_cost"`
	} `yaml:"auth"`

	Posts struct {
		PageSize  int    `yaml:"page_size"`
		ImagesDir string `yaml:"images_dir"`
	} `yaml:"posts"`

	Events struct {
		Buffer       int    `yaml:"buffer"`
		RedisAddr    string `yaml:"redis_addr"`
		RedisChannel string `yaml:"redis_channel"`
	} `yaml:"events"`

	RateLimit struct {
		RedisAddr     string    `yaml:"redis_addr"`
		RedisPassword string    `yaml:"redis_password"`
		RedisDB       int       `yaml:"redis_db"`
		Signup        fileLimit `yaml:"signup"`
		Login         fileLimit `yaml:"login"`
		Write         fileLimit `yaml:"write"`
		Read          fileLimit `yaml:"read"`
		Realtime      fileLimit `yaml:"realtime"`
	} `yaml:"rate_limit"`

	HTTP struct {
		CORSAllowedOrigin     string `yaml:"cors_allowed_origin"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	} `yaml:"http"`
}

// fileLimit is one rate_limit entry, e.g. {limit: 5, window_seconds: 60}.
type fileLimit struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (fl fileLimit) apply(dst *RateLimit) {
	setInt(&dst.Limit, fl.Limit)
	if fl.WindowSeconds > 0 {
		dst.Window = time.Duration(fl.WindowSeconds) * time.Second
	}
}

func parseFileConfig(data []byte) (fileConfig, error) {
	var fc fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, err
	}
	return fc, nil
}

func (fc fileConfig) apply(base APIConfig) APIConfig {
	setString(&base.Environment, fc.Environment)
	setString(&base.Addr, fc.Addr)
	setString(&base.LogLevel, fc.LogLevel)
	setString(&base.DatabaseURL, fc.Database.URL)
	setString(&base.MigrationsDir, fc.Database.MigrationsDir)
	setString(&base.JWTSecret, fc.Auth.JWTSecret)
	if fc.Auth.TokenTTLMinutes > 0 {
		base.TokenTTL = time.Duration(fc.Auth.TokenTTLMinutes) * time.Minute
	}
	setInt(&base.BcryptCost, fc.Auth.BcryptCost)
	setInt(&base.PostsPageSize, fc.Posts.PageSize)
	setString(&base.ImagesDir, fc.Posts.ImagesDir)
	setInt(&base.EventsBuffer, fc.Events.Buffer)
	setString(&base.EventsRedisAddr, fc.Events.RedisAddr)
	setString(&base.EventsRedisChannel, fc.Events.RedisChannel)
	setString(&base.RateLimitRedisAddr, fc.RateLimit.RedisAddr)
	setString(&base.RateLimitRedisPass, fc.RateLimit.RedisPassword)
	setInt(&base.RateLimitRedisDB, fc.RateLimit.RedisDB)
	fc.RateLimit.Signup.apply(&base.RateLimits.Signup)
	fc.RateLimit.Login.apply(&base.RateLimits.Login)
	fc.RateLimit.Write.apply(&base.RateLimits.Write)
	fc.RateLimit.Read.apply(&base.RateLimits.Read)
	fc.RateLimit.Realtime.apply(&base.RateLimits.Realtime)
	setString(&base.CORSAllowedOrigin, fc.HTTP.CORSAllowedOrigin)
	if fc.HTTP.RequestTimeoutSeconds > 0 {
		base.RequestTimeout = time.Duration(fc.HTTP.RequestTimeoutSeconds) * time.Second
	}
	return base
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value != 0 {
		*dst = value
	}
}
