package model

import "time"

// Config holds the complete harvester configuration
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Wiki         WikiConfig         `yaml:"wiki" mapstructure:"wiki"`
	Repo         RepoConfig         `yaml:"repo" mapstructure:"repo"`
	Media        MediaConfig        `yaml:"media" mapstructure:"media"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Journal      JournalConfig      `yaml:"journal" mapstructure:"journal"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`

	// Sources maps a wiki database name to the item representing that wiki,
	// used for the "imported from Wikimedia project" reference.
	Sources map[string]string `yaml:"sources" mapstructure:"sources"`
}

// HTTPConfig configures the API transport
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// WikiConfig identifies the wiki whose pages are harvested
type WikiConfig struct {
	API    string `yaml:"api" mapstructure:"api"`
	DBName string `yaml:"dbname" mapstructure:"dbname"`
}

// RepoConfig identifies the knowledge base claims are written to
type RepoConfig struct {
	API      string `yaml:"api" mapstructure:"api"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"-" mapstructure:"password"` // Bot password; prefer HARVEST_REPO_PASSWORD
	DryRun   bool   `yaml:"dry_run" mapstructure:"dry_run"`
}

// MediaConfig identifies the shared media repository
type MediaConfig struct {
	API string `yaml:"api" mapstructure:"api"`
}

// RateLimitingConfig controls request and edit throttling
type RateLimitingConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size"`
	EditDelay         time.Duration `yaml:"edit_delay" mapstructure:"edit_delay"`

	// Domains overrides the read rate of single API hosts
	Domains []DomainRate `yaml:"domains,omitempty" mapstructure:"domains"`
}

// DomainRate is the read rate allowed for one host, e.g. "nl.wikipedia.org"
type DomainRate struct {
	Host              string  `yaml:"host" mapstructure:"host"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// CacheConfig controls the lookup cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// JournalConfig controls the SQLite run journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"`
}

// OutputConfig controls operator-facing output
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
	Ask     bool `yaml:"ask" mapstructure:"ask"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "Harvester/0.1 (+https://github.com/ppiankov/harvester)",
			MaxBodyBytes: 8_000_000,
			MaxRetries:   3,
		},
		Wiki: WikiConfig{
			API:    "https://nl.wikipedia.org/w/api.php",
			DBName: "nlwiki",
		},
		Repo: RepoConfig{
			API: "https://www.wikidata.org/w/api.php",
		},
		Media: MediaConfig{
			API: "https://commons.wikimedia.org/w/api.php",
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 5,
			BurstSize:         5,
			EditDelay:         10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "~/.harvest/cache",
			MemoryTTL: 30 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "~/.harvest/journal.db",
		},
		Sources: map[string]string{
			"enwiki": "Q328",
			"nlwiki": "Q10000",
			"dewiki": "Q48183",
			"frwiki": "Q8447",
			"itwiki": "Q11920",
			"eswiki": "Q8449",
			"svwiki": "Q169514",
			"plwiki": "Q1551807",
		},
	}
}
