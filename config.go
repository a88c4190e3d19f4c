package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit          string        `yaml:"git_commit" envconfig:"PLIB_GIT_COMMIT"`
	GitTag             string        `yaml:"git_tag" envconfig:"PLIB_GIT_TAG"`
	BuildTime          string        `yaml:"build_time" envconfig:"PLIB_BUILD_TIME"`
	IsProduction       bool          `yaml:"is_production" envconfig:"PLIB_IS_PRODUCTION"`
	LogLevel           zapcore.Level `yaml:"log_level" envconfig:"PLIB_LOG_LEVEL"`
	LogFolder          string        `yaml:"log_folder" envconfig:"PLIB_LOG_FOLDER"`
	LogMaxSize         int           `yaml:"log_max_size" envconfig:"PLIB_LOG_MAX_SIZE"` // in megabytes
	ProfilerEnable     bool          `yaml:"profiler_enable" envconfig:"PLIB_PROFILER_ENABLE"`
	OpsEndpointsEnable bool          `yaml:"ops_endpoints_enable" envconfig:"PLIB_OPS_ENDPOINTS_ENABLE"`
	Server             ServerConfig  `yaml:"server"`
	Storage            StorageConfig `yaml:"storage"`
	Library            LibraryConfig `yaml:"library"`
	Archive            ArchiveConfig `yaml:"archive"`
	Redis              RedisConfig   `yaml:"redis"`
	BoltDB             BoltDBConfig  `yaml:"boltdb"`
	SQLite             SQLiteConfig  `yaml:"sqlite"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"PLIB_SERVER_HOST"`
	Port            string        `yaml:"port" envconfig:"PLIB_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"PLIB_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"PLIB_SERVER_WRITE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"PLIB_SERVER_REQUEST_TIMEOUT"` // Time to wait for a request to finish
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"PLIB_SERVER_SHUTDOWN_TIMEOUT"`
	RateLimit       float64       `yaml:"rate_limit" envconfig:"PLIB_SERVER_RATE_LIMIT"` // requests per second, 0 disables
	RateBurst       int           `yaml:"rate_burst" envconfig:"PLIB_SERVER_RATE_BURST"`
}

// StorageConfig selects the key/value backend.
type StorageConfig struct {
	Backend  string `yaml:"backend" envconfig:"PLIB_STORAGE_BACKEND"`
	Capacity int64  `yaml:"capacity" envconfig:"PLIB_STORAGE_CAPACITY"` // bytes, enforced by memory, bolt and redis
}

type LibraryConfig struct {
	HistoryLimit      int    `yaml:"history_limit" envconfig:"PLIB_LIBRARY_HISTORY_LIMIT"`
	HistoryCompactTo  int    `yaml:"history_compact_to" envconfig:"PLIB_LIBRARY_HISTORY_COMPACT_TO"`
	AssumedCapacity   int64  `yaml:"assumed_capacity" envconfig:"PLIB_LIBRARY_ASSUMED_CAPACITY"`
	RollbackPolicy    string `yaml:"rollback_policy" envconfig:"PLIB_LIBRARY_ROLLBACK_POLICY"`
	KeyPrefix         string `yaml:"key_prefix" envconfig:"PLIB_LIBRARY_KEY_PREFIX"`
	MaxAttachmentSize int64  `yaml:"max_attachment_size" envconfig:"PLIB_LIBRARY_MAX_ATTACHMENT_SIZE"`
}

// ArchiveConfig controls the activity archive fed by the history.
type ArchiveConfig struct {
	Enable    bool   `yaml:"enable" envconfig:"PLIB_ARCHIVE_ENABLE"`
	Queue     string `yaml:"queue" envconfig:"PLIB_ARCHIVE_QUEUE"` // memory or redis
	QueueSize int    `yaml:"queue_size" envconfig:"PLIB_ARCHIVE_QUEUE_SIZE"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"PLIB_REDIS_HOST"`
	Port          string        `yaml:"port" envconfig:"PLIB_REDIS_PORT"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"PLIB_REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"PLIB_REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"PLIB_REDIS_WRITE_TIMEOUT"`
	PoolSize      int           `yaml:"pool_size" envconfig:"PLIB_REDIS_POOL_SIZE"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"PLIB_REDIS_POOL_TIMEOUT"`
	Username      string        `yaml:"username" envconfig:"PLIB_REDIS_USERNAME"`
	Password      string        `yaml:"password" envconfig:"PLIB_REDIS_PASSWORD"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"PLIB_REDIS_DATABASE_INDEX"`
}

type BoltDBConfig struct {
	FilePath          string        `yaml:"filepath" envconfig:"PLIB_BOLTDB_FILE_PATH"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"PLIB_BOLTDB_TIMEOUT"`
	BucketName        string        `yaml:"bucket_name" envconfig:"PLIB_BOLTDB_BUCKET_NAME"`
	ArchiveBucketName string        `yaml:"archive_bucket_name" envconfig:"PLIB_BOLTDB_ARCHIVE_BUCKET_NAME"`
}

type SQLiteConfig struct {
	FilePath     string `yaml:"filepath" envconfig:"PLIB_SQLITE_FILE_PATH"`
	MaxPageCount int64  `yaml:"max_page_count" envconfig:"PLIB_SQLITE_MAX_PAGE_COUNT"`
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	yd := yaml.NewDecoder(file)
	err = yd.Decode(cfg)

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnvs reads the environments variables and provides an instance of the App config.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig setup defaults values for non provided parameters
// and configures build tags values to be used if provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	setDefaults(config)

	if !slices.Contains([]string{BackendMemory, BackendBolt, BackendSQLite, BackendRedis}, config.Storage.Backend) {
		return fmt.Errorf("unsupported storage backend %q", config.Storage.Backend)
	}

	if config.Library.HistoryCompactTo > config.Library.HistoryLimit {
		return errors.New("history compaction bound must not exceed the history limit")
	}

	if config.Library.RollbackPolicy != RollbackLenient && config.Library.RollbackPolicy != RollbackStrict {
		return fmt.Errorf("unsupported rollback policy %q", config.Library.RollbackPolicy)
	}

	if config.Archive.Queue != BackendMemory && config.Archive.Queue != BackendRedis {
		return fmt.Errorf("unsupported archive queue %q", config.Archive.Queue)
	}

	if config.usesRedis() && (len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0) {
		return errors.New("make sure to set valid redis address and port in configuration file")
	}

	return nil
}

func setDefaults(config *Config) {
	if config.LogFolder == "" {
		config.LogFolder = "./logs"
	}
	if config.LogMaxSize <= 0 {
		config.LogMaxSize = 10
	}
	if config.Server.Host == "" {
		config.Server.Host = "127.0.0.1"
	}
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.Server.RequestTimeout <= 0 {
		config.Server.RequestTimeout = 30 * time.Second
	}
	if config.Server.ShutdownTimeout <= 0 {
		config.Server.ShutdownTimeout = 10 * time.Second
	}
	if config.Server.RateLimit > 0 && config.Server.RateBurst <= 0 {
		config.Server.RateBurst = 1
	}
	if config.Storage.Backend == "" {
		config.Storage.Backend = BackendBolt
	}
	if config.Library.HistoryLimit <= 0 {
		config.Library.HistoryLimit = 100
	}
	if config.Library.HistoryCompactTo <= 0 {
		config.Library.HistoryCompactTo = min(50, config.Library.HistoryLimit)
	}
	if config.Library.AssumedCapacity <= 0 {
		config.Library.AssumedCapacity = 50 << 20
	}
	if config.Library.RollbackPolicy == "" {
		config.Library.RollbackPolicy = RollbackLenient
	}
	if config.Library.MaxAttachmentSize <= 0 {
		config.Library.MaxAttachmentSize = 20 << 20
	}
	if config.Archive.Queue == "" {
		config.Archive.Queue = BackendMemory
	}
	if config.Archive.QueueSize <= 0 {
		config.Archive.QueueSize = 1024
	}
	if config.BoltDB.FilePath == "" {
		config.BoltDB.FilePath = "./pocket-library.db"
	}
	if config.BoltDB.Timeout <= 0 {
		config.BoltDB.Timeout = time.Second
	}
	if config.BoltDB.BucketName == "" {
		config.BoltDB.BucketName = "library"
	}
	if config.BoltDB.ArchiveBucketName == "" {
		config.BoltDB.ArchiveBucketName = "archive"
	}
	if config.SQLite.FilePath == "" {
		config.SQLite.FilePath = "./pocket-library.sqlite"
	}
}

// usesRedis tells whether a component is configured to talk to redis.
func (c *Config) usesRedis() bool {
	return c.Storage.Backend == BackendRedis || (c.Archive.Enable && c.Archive.Queue == BackendRedis)
}

// usesBolt tells whether the bolt file must be opened.
func (c *Config) usesBolt() bool {
	return c.Storage.Backend == BackendBolt || c.Archive.Enable
}

// LoadAndInitConfigs loads in order the configs from various predefined sources
// then build the App configuration data. The env file is optional.
func LoadAndInitConfigs(configFile, envFile, gitCommit, gitTag, buildTime string) (*Config, error) {
	// Setup the yaml configuration from file.
	config, err := LoadConfigFile(configFile)
	if errors.Is(err, fs.ErrNotExist) {
		config, err = &Config{}, nil
	}
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// Set the environment configuration.
	err = godotenv.Load(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("failed to set environment configurations: %s", err)
	}

	// Use environment variables with prefix `PLIB`.
	err = LoadConfigEnvs("PLIB", config)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	err = InitConfig(config, gitCommit, gitTag, buildTime)
	if err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
