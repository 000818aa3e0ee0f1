// Package main is the entry point of the wearsync server: OAuth onboarding for a
// wearable provider plus signed webhook ingestion into derived health profiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/router-for-me/wearsync/internal/buildinfo"
	"github.com/router-for-me/wearsync/internal/cmd"
	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/logging"
	"github.com/router-for-me/wearsync/internal/store"
	"github.com/router-for-me/wearsync/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("wearsync Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	var authorize bool
	var noBrowser bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&authorize, "authorize", false, "Open the wearable authorization page once the server is up")
	flag.BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		os.Exit(1)
	}

	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfigOptional(configPath, configPath == filepath.Join(wd, "config.yaml"))
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	util.SetLogLevel(cfg)
	log.Infof("wearsync Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	storeOpts, err := storeOptionsFromEnv()
	if err != nil {
		log.Errorf("invalid store configuration: %v", err)
		os.Exit(1)
	}

	opts := cmd.ServiceOptions{Stores: storeOpts}
	if authorize {
		opts.OnReady = cmd.AuthorizeOnReady(cmd.AuthorizeOptions{NoBrowser: noBrowser})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = cmd.StartService(ctx, cfg, configPath, opts); err != nil {
		log.Errorf("service stopped: %v", err)
		os.Exit(1)
	}
	log.Info("wearsync stopped")
}

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

// storeOptionsFromEnv reads the PGSTORE_*, OBJECTSTORE_* and GITSTORE_* variables.
func storeOptionsFromEnv() (cmd.StoreOptions, error) {
	var opts cmd.StoreOptions

	if dsn, ok := lookupEnv("PGSTORE_DSN", "pgstore_dsn"); ok {
		pg := &store.PostgresStoreConfig{DSN: dsn}
		if value, okSchema := lookupEnv("PGSTORE_SCHEMA", "pgstore_schema"); okSchema {
			pg.Schema = value
		}
		opts.Postgres = pg
	}

	if endpoint, ok := lookupEnv("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		resolved, useSSL, err := resolveObjectEndpoint(endpoint)
		if err != nil {
			return opts, err
		}
		obj := &store.ObjectStoreConfig{Endpoint: resolved, UseSSL: useSSL, PathStyle: true}
		obj.AccessKey, _ = lookupEnv("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key")
		obj.SecretKey, _ = lookupEnv("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key")
		obj.Bucket, _ = lookupEnv("OBJECTSTORE_BUCKET", "objectstore_bucket")
		obj.Region, _ = lookupEnv("OBJECTSTORE_REGION", "objectstore_region")
		obj.Prefix, _ = lookupEnv("OBJECTSTORE_PREFIX", "objectstore_prefix")
		opts.Object = obj
	}

	if remote, ok := lookupEnv("GITSTORE_GIT_URL", "gitstore_git_url"); ok {
		opts.UseGitStore = true
		opts.GitRemote = remote
	}
	if value, ok := lookupEnv("GITSTORE_LOCAL_PATH", "gitstore_local_path"); ok {
		opts.UseGitStore = true
		opts.GitRepoDir = value
	}
	opts.GitUser, _ = lookupEnv("GITSTORE_GIT_USERNAME", "gitstore_git_username")
	opts.GitPassword, _ = lookupEnv("GITSTORE_GIT_TOKEN", "gitstore_git_token")
	return opts, nil
}

// resolveObjectEndpoint strips an http(s) scheme and reports whether TLS is used.
func resolveObjectEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	useSSL := true
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return "", false, fmt.Errorf("parse object store endpoint %q: %w", raw, err)
		}
		switch strings.ToLower(parsed.Scheme) {
		case "http":
			useSSL = false
		case "https":
		default:
			return "", false, fmt.Errorf("unsupported object store scheme %q (only http and https are allowed)", parsed.Scheme)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("object store endpoint %q is missing host information", raw)
		}
		endpoint = parsed.Host
		if parsed.Path != "" && parsed.Path != "/" {
			endpoint = strings.TrimSuffix(parsed.Host+parsed.Path, "/")
		}
	}
	return strings.TrimRight(endpoint, "/"), useSSL, nil
}
