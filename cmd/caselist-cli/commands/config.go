package commands

import (
	"caselist-scout/internal/checkpoint"
	"caselist-scout/internal/pacing"
	"caselist-scout/internal/pipeline"
	"caselist-scout/internal/scrapers/caselist"
	configlibsql "caselist-scout/lib/configutil/libsql"
	"fmt"
	"net/url"
	"os"
	"time"
)

type DelaysConfig struct {
	Unit   string `json:"unit"`
	Group  string `json:"group"`
	Batch  string `json:"batch"`
	Retry  string `json:"retry"`
	Settle string `json:"settle"`
}

type Config struct {
	BaseUrl         string   `json:"base_url"`
	LoginPath       string   `json:"login_path"`
	DirectoryPath   string   `json:"directory_path"`
	DownloadBaseUrl string   `json:"download_base_url"`
	AllowedHosts    []string `json:"allowed_hosts"`

	Groups            []string     `json:"groups"`
	BatchSize         int          `json:"batch_size"`
	MaxRetries        *int         `json:"max_retries"`
	RequestsPerSecond float64      `json:"requests_per_second"`
	Delays            DelaysConfig `json:"delays"`
	SkipVerified      bool         `json:"skip_verified"`
	ResumeIndex       bool         `json:"resume_index"`

	Checkpoint checkpoint.Options  `json:"checkpoint"`
	Database   configlibsql.Struct `json:"database"`

	Username string `json:"username"`
	Password string `json:"password"`
}

const (
	envUsername       = "CASELIST_USERNAME"
	envPassword       = "CASELIST_PASSWORD"
	envDatabaseToken  = "CASELIST_DATABASE_AUTH_TOKEN"
	defaultBaseUrl    = "https://opencaselist.com"
	defaultDirectory  = "/ndtceda25"
	defaultBatchSize  = 5
	defaultMaxRetries = 3
)

// withDefaults fills every unset field and applies environment overrides.
func (c Config) withDefaults(getenv func(string) string) Config {
	if c.BaseUrl == "" {
		c.BaseUrl = defaultBaseUrl
	}
	if c.LoginPath == "" {
		c.LoginPath = "/login"
	}
	if c.DirectoryPath == "" {
		c.DirectoryPath = defaultDirectory
	}
	if c.DownloadBaseUrl == "" {
		c.DownloadBaseUrl = caselist.DefaultParserOptions().DownloadBaseUrl
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxRetries == nil {
		retries := defaultMaxRetries
		c.MaxRetries = &retries
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if username := getenv(envUsername); username != "" {
		c.Username = username
	}
	if password := getenv(envPassword); password != "" {
		c.Password = password
	}
	if token := getenv(envDatabaseToken); token != "" {
		c.Database.AuthToken = token
	}
	return c
}

func parseDelay(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("delays.%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("delays.%s: negative duration %s", name, value)
	}
	return d, nil
}

func (c Config) delays() (pacing.Delays, error) {
	defaults := pacing.DefaultDelays()
	var (
		out pacing.Delays
		err error
	)
	out.Unit, err = parseDelay("unit", c.Delays.Unit, defaults.Unit)
	if err != nil {
		return out, err
	}
	out.Group, err = parseDelay("group", c.Delays.Group, defaults.Group)
	if err != nil {
		return out, err
	}
	out.Batch, err = parseDelay("batch", c.Delays.Batch, defaults.Batch)
	if err != nil {
		return out, err
	}
	out.Retry, err = parseDelay("retry", c.Delays.Retry, defaults.Retry)
	if err != nil {
		return out, err
	}
	out.Settle, err = parseDelay("settle", c.Delays.Settle, defaults.Settle)
	if err != nil {
		return out, err
	}
	return out, nil
}

func (c Config) directoryAddress() (string, error) {
	base, err := url.Parse(c.BaseUrl)
	if err != nil {
		return "", fmt.Errorf("base_url: %w", err)
	}
	ref, err := url.Parse(c.DirectoryPath)
	if err != nil {
		return "", fmt.Errorf("directory_path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// runnerOptions validates what only a network run needs.
func (c Config) runnerOptions() (pipeline.RunnerOptions, error) {
	if len(c.Groups) == 0 {
		return pipeline.RunnerOptions{}, fmt.Errorf("no groups configured")
	}
	if c.Username == "" || c.Password == "" {
		return pipeline.RunnerOptions{}, fmt.Errorf(
			"credentials missing, set %s and %s or username and password in the config",
			envUsername, envPassword,
		)
	}
	if *c.MaxRetries < 0 {
		return pipeline.RunnerOptions{}, fmt.Errorf("max_retries cannot be negative")
	}
	directory, err := c.directoryAddress()
	if err != nil {
		return pipeline.RunnerOptions{}, err
	}

	return pipeline.RunnerOptions{
		Groups:           c.Groups,
		DirectoryAddress: directory,
		Credentials: pipeline.Credentials{
			Username: c.Username,
			Password: c.Password,
		},
		BatchSize:    c.BatchSize,
		MaxRetries:   *c.MaxRetries,
		SkipVerified: c.SkipVerified,
		ResumeIndex:  c.ResumeIndex,
	}, nil
}

func loadConfig(path string) (Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(os.Getenv), nil
}
