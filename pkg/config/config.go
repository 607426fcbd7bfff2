package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the full runtime configuration for pindex. Every field maps
// to one environment variable; all are optional and carry defaults.
type Config struct {
	// External endpoints
	NodeRPCBase           string
	GatewayBase           string
	ExternalClassifierURL string

	// Catalogue
	DBPath      string
	BusyTimeout time.Duration

	// HTTP read server
	Port int

	// Logging
	LogLevel string
	LogJSON  bool

	// Task intervals
	PinRefresh  time.Duration
	TypeRefresh time.Duration
	DirRefresh  time.Duration

	// Sampling caps
	SampleBytes   int64
	MaxTotalBytes int64

	// Worker counts
	CrawlConcurrency     int
	DirExpandConcurrency int

	// Directory expander controls
	DirExpandMaxChildren   int
	DirExpandMaxDepth      int
	DirExpandTTL           time.Duration
	DirExpandMaxBatch      int
	DirExpandPruneChildren bool
	DirExpandTrackParent   bool

	// Path index caps
	PathIndexMaxFilesPerRoot int
	PathIndexMaxDepth        int
	PathIndexMaxDirsPerRoot  int

	// Token index
	SearchTokenIndexMaxTokens int

	// Remote call behavior
	RequestTimeout time.Duration
	FetchRetries   int

	// Tagger controls
	TextTaggerEnable    bool
	ImageTaggerEnable   bool
	MLWorkerEnable      bool
	MLWorkerCmd         string
	MLWorkerTaskTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NODE_RPC_BASE", "http://127.0.0.1:5001")
	v.SetDefault("GATEWAY_BASE", "http://127.0.0.1:8080")
	v.SetDefault("EXTERNAL_CLASSIFIER_URL", "")

	v.SetDefault("DB_PATH", "pindex.db")
	v.SetDefault("DB_BUSY_TIMEOUT_MS", 5000)

	v.SetDefault("PORT", 8790)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)

	v.SetDefault("PIN_REFRESH_S", 1800)
	v.SetDefault("TYPE_REFRESH_S", 300)
	v.SetDefault("DIR_REFRESH_S", 600)

	v.SetDefault("SAMPLE_BYTES", 256*1024)
	v.SetDefault("MAX_TOTAL_BYTES", 768*1024)

	v.SetDefault("CRAWL_CONCURRENCY", 3)
	v.SetDefault("DIR_EXPAND_CONCURRENCY", 1)

	v.SetDefault("DIR_EXPAND_MAX_CHILDREN", 1000)
	v.SetDefault("DIR_EXPAND_MAX_DEPTH", 3)
	v.SetDefault("DIR_EXPAND_TTL_S", 86400)
	v.SetDefault("DIR_EXPAND_MAX_BATCH", 200)
	v.SetDefault("DIR_EXPAND_PRUNE_CHILDREN", true)
	v.SetDefault("DIR_EXPAND_TRACK_PARENT", true)

	v.SetDefault("PATH_INDEX_MAX_FILES_PER_ROOT", 1000)
	v.SetDefault("PATH_INDEX_MAX_DEPTH", 10)
	v.SetDefault("PATH_INDEX_MAX_DIRS_PER_ROOT", 200)

	v.SetDefault("SEARCH_TOKEN_INDEX_MAX_TOKENS", 128)

	v.SetDefault("REQUEST_TIMEOUT_MS", 15000)
	v.SetDefault("FETCH_RETRIES", 2)

	v.SetDefault("TEXT_TAGGER_ENABLE", true)
	v.SetDefault("IMAGE_TAGGER_ENABLE", false)
	v.SetDefault("ML_WORKER_ENABLE", false)
	v.SetDefault("ML_WORKER_CMD", "")
	v.SetDefault("ML_WORKER_TASK_TIMEOUT_MS", 120000)
}

// Load reads configuration from the environment with defaults applied.
func Load() *Config {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return &Config{
		NodeRPCBase:           v.GetString("NODE_RPC_BASE"),
		GatewayBase:           v.GetString("GATEWAY_BASE"),
		ExternalClassifierURL: v.GetString("EXTERNAL_CLASSIFIER_URL"),

		DBPath:      v.GetString("DB_PATH"),
		BusyTimeout: clampDuration(time.Duration(v.GetInt64("DB_BUSY_TIMEOUT_MS"))*time.Millisecond, 0, 60*time.Second),

		Port: v.GetInt("PORT"),

		LogLevel: v.GetString("LOG_LEVEL"),
		LogJSON:  v.GetBool("LOG_JSON"),

		PinRefresh:  time.Duration(v.GetInt64("PIN_REFRESH_S")) * time.Second,
		TypeRefresh: time.Duration(v.GetInt64("TYPE_REFRESH_S")) * time.Second,
		DirRefresh:  time.Duration(v.GetInt64("DIR_REFRESH_S")) * time.Second,

		SampleBytes:   v.GetInt64("SAMPLE_BYTES"),
		MaxTotalBytes: v.GetInt64("MAX_TOTAL_BYTES"),

		CrawlConcurrency:     atLeast(v.GetInt("CRAWL_CONCURRENCY"), 1),
		DirExpandConcurrency: atLeast(v.GetInt("DIR_EXPAND_CONCURRENCY"), 1),

		DirExpandMaxChildren:   v.GetInt("DIR_EXPAND_MAX_CHILDREN"),
		DirExpandMaxDepth:      v.GetInt("DIR_EXPAND_MAX_DEPTH"),
		DirExpandTTL:           time.Duration(v.GetInt64("DIR_EXPAND_TTL_S")) * time.Second,
		DirExpandMaxBatch:      v.GetInt("DIR_EXPAND_MAX_BATCH"),
		DirExpandPruneChildren: v.GetBool("DIR_EXPAND_PRUNE_CHILDREN"),
		DirExpandTrackParent:   v.GetBool("DIR_EXPAND_TRACK_PARENT"),

		PathIndexMaxFilesPerRoot: v.GetInt("PATH_INDEX_MAX_FILES_PER_ROOT"),
		PathIndexMaxDepth:        v.GetInt("PATH_INDEX_MAX_DEPTH"),
		PathIndexMaxDirsPerRoot:  v.GetInt("PATH_INDEX_MAX_DIRS_PER_ROOT"),

		SearchTokenIndexMaxTokens: atLeast(v.GetInt("SEARCH_TOKEN_INDEX_MAX_TOKENS"), 1),

		RequestTimeout: time.Duration(v.GetInt64("REQUEST_TIMEOUT_MS")) * time.Millisecond,
		FetchRetries:   atLeast(v.GetInt("FETCH_RETRIES"), 0),

		TextTaggerEnable:    v.GetBool("TEXT_TAGGER_ENABLE"),
		ImageTaggerEnable:   v.GetBool("IMAGE_TAGGER_ENABLE"),
		MLWorkerEnable:      v.GetBool("ML_WORKER_ENABLE"),
		MLWorkerCmd:         v.GetString("ML_WORKER_CMD"),
		MLWorkerTaskTimeout: time.Duration(v.GetInt64("ML_WORKER_TASK_TIMEOUT_MS")) * time.Millisecond,
	}
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func atLeast(n, min int) int {
	if n < min {
		return min
	}
	return n
}
