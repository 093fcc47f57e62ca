package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"solusiemas/api/internal/store"

	"gopkg.in/yaml.v3"
)

const (
	BackendAuto     = "auto"
	BackendGitHub   = "github"
	BackendGit      = "git"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
)

// DefaultSiteSources are the locations a browser on the public site tries,
// in order.
var DefaultSiteSources = []string{
	"data/price.json",
	"/data/price.json",
	"/.netlify/functions/get-price",
	"/api/get-price",
}

type Config struct {
	Addr       string
	CORSOrigin string
	LogLevel   string
	AdminKey   string

	Backend      string
	GitHubToken  string
	GitHubAPIURL string
	Owner        string
	Repo         string
	Branch       string
	PricePath    string
	DataFile     string
	GitRepoDir   string
	DatabaseURL  string

	RedisURL string
	CacheKey string

	ExternalAPIURL string
	Sources        []string
	SourcesFile    string
	BaseURL        string
	PollInterval   time.Duration
}

func Load() Config {
	return Config{
		Addr:       getenv("API_ADDR", ":8787"),
		CORSOrigin: getenv("CORS_ORIGIN", "*"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		AdminKey:   os.Getenv("ADMIN_KEY"),

		Backend:      strings.ToLower(getenv("PRICE_STORE_BACKEND", BackendAuto)),
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		GitHubAPIURL: os.Getenv("GITHUB_API_URL"),
		Owner:        getenvAny([]string{"GITHUB_OWNER", "REPO_OWNER"}, ""),
		Repo:         getenvAny([]string{"GITHUB_REPO", "REPO_NAME"}, ""),
		Branch:       getenvAny([]string{"GITHUB_BRANCH", "BRANCH"}, store.DefaultBranch),
		PricePath:    getenv("PRICE_PATH", store.DefaultPath),
		DataFile:     getenv("DATA_FILE", store.DefaultPath),
		GitRepoDir:   os.Getenv("GIT_REPO_DIR"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		// Redis is optional; the in-process slot is used when unset.
		RedisURL: os.Getenv("REDIS_URL"),
		CacheKey: getenv("CACHE_KEY", "solusiemas_price"),

		ExternalAPIURL: os.Getenv("EXTERNAL_API_URL"),
		Sources:        splitList(os.Getenv("PRICE_SOURCES")),
		SourcesFile:    os.Getenv("PRICE_SOURCES_FILE"),
		BaseURL:        os.Getenv("PRICE_BASE_URL"),
		PollInterval:   time.Duration(getenvInt("POLL_INTERVAL_SECONDS", 300)) * time.Second,
	}
}

// StoreBackend resolves "auto": GitHub when a token and repository are
// configured, the local data file otherwise.
func (c Config) StoreBackend() string {
	switch c.Backend {
	case "", BackendAuto:
		if c.GitHubToken != "" && c.Owner != "" && c.Repo != "" {
			return BackendGitHub
		}
		return BackendLocal
	default:
		return c.Backend
	}
}

func (c Config) Target() store.Target {
	return store.Target{Owner: c.Owner, Repo: c.Repo, Branch: c.Branch, Path: c.PricePath}.WithDefaults()
}

// ValidateStore checks that the selected backend has what it needs.
func (c Config) ValidateStore() error {
	var missing []string
	switch backend := c.StoreBackend(); backend {
	case BackendGitHub:
		missing = appendMissing(missing, "GITHUB_TOKEN", c.GitHubToken)
		missing = appendMissing(missing, "GITHUB_OWNER", c.Owner)
		missing = appendMissing(missing, "GITHUB_REPO", c.Repo)
	case BackendGit:
		missing = appendMissing(missing, "GIT_REPO_DIR", c.GitRepoDir)
	case BackendPostgres:
		missing = appendMissing(missing, "DATABASE_URL", c.DatabaseURL)
	case BackendLocal:
		missing = appendMissing(missing, "DATA_FILE", c.DataFile)
	default:
		return fmt.Errorf("unknown PRICE_STORE_BACKEND %q", backend)
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

// ValidateSync checks the configuration of the unattended sync job. Unlike
// the API, "auto" never falls back to a local write: an unattended job
// without a remote store has nowhere to publish.
func (c Config) ValidateSync() error {
	var missing []string
	missing = appendMissing(missing, "EXTERNAL_API_URL", c.ExternalAPIURL)
	if c.Backend == "" || c.Backend == BackendAuto {
		missing = appendMissing(missing, "REPO_OWNER", c.Owner)
		missing = appendMissing(missing, "REPO_NAME", c.Repo)
		missing = appendMissing(missing, "GITHUB_TOKEN", c.GitHubToken)
		if len(missing) > 0 {
			return &MissingError{Names: missing}
		}
		return nil
	}
	if err := c.ValidateStore(); err != nil {
		var m *MissingError
		if errors.As(err, &m) {
			return &MissingError{Names: append(missing, m.Names...)}
		}
		return err
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

type sourcesFile struct {
	Sources []string `yaml:"sources"`
}

// SourceSpecs returns the resolver candidates from PRICE_SOURCES_FILE, then
// PRICE_SOURCES. It returns nil when neither is set.
func (c Config) SourceSpecs() ([]string, error) {
	if c.SourcesFile != "" {
		raw, err := os.ReadFile(c.SourcesFile)
		if err != nil {
			return nil, fmt.Errorf("read sources file: %w", err)
		}
		var parsed sourcesFile
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("parse sources file %s: %w", c.SourcesFile, err)
		}
		specs := make([]string, 0, len(parsed.Sources))
		for _, s := range parsed.Sources {
			if s = strings.TrimSpace(s); s != "" {
				specs = append(specs, s)
			}
		}
		if len(specs) == 0 {
			return nil, fmt.Errorf("sources file %s lists no sources", c.SourcesFile)
		}
		return specs, nil
	}
	if len(c.Sources) > 0 {
		return append([]string(nil), c.Sources...), nil
	}
	return nil, nil
}

// MissingError names required settings that are unset.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Names, ", ")
}

func appendMissing(missing []string, name, value string) []string {
	if strings.TrimSpace(value) == "" {
		return append(missing, name)
	}
	return missing
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvAny(keys []string, fallback string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
