package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Config holds all configuration options
type Config struct {
	// Server config
	Port          string `long:"port" env:"PORT" default:"8080" description:"Server port"`
	PublicBaseURL string `long:"public-base-url" env:"PUBLIC_BASE_URL" default:"http://localhost:8080" description:"Externally reachable base URL of this gateway"`
	ClientsPath   string `long:"clients-path" env:"CLIENTS_PATH" default:"./clients.yaml" description:"YAML file with registered downstream clients"`

	// Upstream identity provider
	Upstream struct {
		Mode         string   `long:"upstream-mode" env:"UPSTREAM_MODE" default:"oauth2" choice:"oauth2" choice:"static" description:"Upstream provider mode"`
		AuthURL      string   `long:"upstream-auth-url" env:"UPSTREAM_AUTH_URL" description:"Upstream authorization endpoint"`
		TokenURL     string   `long:"upstream-token-url" env:"UPSTREAM_TOKEN_URL" description:"Upstream token endpoint"`
		UserInfoURL  string   `long:"upstream-userinfo-url" env:"UPSTREAM_USERINFO_URL" description:"Upstream userinfo endpoint (optional)"`
		ClientID     string   `long:"upstream-client-id" env:"UPSTREAM_CLIENT_ID" description:"Upstream client ID"`
		ClientSecret string   `long:"upstream-client-secret" env:"UPSTREAM_CLIENT_SECRET" description:"Upstream client secret"`
		Scopes       []string `long:"upstream-scope" env:"UPSTREAM_SCOPES" env-delim:"," default:"openid" default:"email" description:"Upstream scopes"`
		StaticAccount string  `long:"upstream-static-account" env:"UPSTREAM_STATIC_ACCOUNT" description:"Account whose archived credential bundle backs static mode"`
	} `group:"Upstream Provider Options"`

	// Storage config
	StorageMode string `long:"storage-mode" env:"STORAGE_MODE" default:"memory" choice:"memory" choice:"redis" description:"Shared store backend"`
	SessionMode string `long:"session-mode" env:"SESSION_MODE" default:"local" choice:"local" choice:"redis" description:"Session transport backend"`
	ArchiveMode string `long:"archive-mode" env:"ARCHIVE_MODE" default:"none" choice:"none" choice:"filesystem" choice:"s3" description:"Credential archive backend"`

	// Filesystem archive
	DataPath string `long:"data-path" env:"DATA_PATH" default:"./data" description:"Filesystem archive directory"`

	// S3 archive
	S3 struct {
		Endpoint  string `long:"s3-endpoint" env:"S3_ENDPOINT" default:"localhost:9000" description:"S3 endpoint (host:port)"`
		Bucket    string `long:"s3-bucket" env:"S3_BUCKET" default:"toolgate" description:"S3 bucket name"`
		AccessKey string `long:"s3-access-key" env:"S3_ACCESS_KEY" default:"minioadmin" description:"S3 access key"`
		SecretKey string `long:"s3-secret-key" env:"S3_SECRET_KEY" default:"minioadmin" description:"S3 secret key"`
		UseSSL    bool   `long:"s3-use-ssl" env:"S3_USE_SSL" description:"Use SSL for S3 connections"`
	} `group:"S3 Archive Options"`

	// Redis config
	Redis struct {
		Addr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
		Password string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
		DB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	} `group:"Redis Options"`

	// TTL knobs
	PendingTTL      time.Duration `long:"pending-ttl" env:"PENDING_TTL" default:"10m" description:"Lifetime of an unfinished authorization attempt"`
	ExchangeTTL     time.Duration `long:"exchange-ttl" env:"EXCHANGE_TTL" default:"10m" description:"Lifetime of an unredeemed authorization code"`
	InstallationTTL time.Duration `long:"installation-ttl" env:"INSTALLATION_TTL" default:"720h" description:"Maximum session lifetime"`
}

// LoadConfig parses configuration from environment variables and command line flags
func LoadConfig() (*Config, error) {
	var config Config

	parser := flags.NewParser(&config, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}
