package chronicle

import (
	"strings"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/util"
)

const (
	// FeedKV stores the change feed in the engine's kv database
	FeedKV = "kv"
	// FeedRedis reads and writes the change feed with redis streams
	FeedRedis = "redis"
)

// Config configures an Engine
type Config struct {
	// Provider is the name of the kv provider (badger or tikv)
	Provider string `json:"provider" validate:"required"`
	// ProviderParams are passed to the kv provider (ex: storage_path for badger, pd_addr for tikv)
	ProviderParams map[string]any `json:"providerParams"`
	// MaxHistory is the number of histories kept per document
	MaxHistory int `json:"maxHistory" validate:"min=1"`
	// Staleness is how far behind the current state the snapshot reader lags. It must exceed the watchers' processing
	// latency for the previous version of a document to be read.
	Staleness time.Duration `json:"staleness" validate:"min=0"`
	// RetryMaxTries is the number of attempts of failing reads and writes
	RetryMaxTries uint `json:"retryMaxTries"`
	// CompactInterval is how often superseded revisions and acknowledged feed events are removed. Zero disables it.
	CompactInterval time.Duration `json:"compactInterval" validate:"min=0"`
	LogLevel        string        `json:"logLevel"`
	// Database is the database name of published events
	Database string `json:"database"`
	// DocumentPattern is the glob matching the collections of bucket documents. The part before '*' is the collection
	// prefix of every bucket.
	DocumentPattern string `json:"documentPattern" validate:"required,endswith=*"`
	// SchemaCollection is the collection of bucket schemas
	SchemaCollection string `json:"schemaCollection" validate:"required"`
	// ConsumerPrefix prefixes the feed consumer (or consumer group) names of the watchers
	ConsumerPrefix string `json:"consumerPrefix"`
	// Feed selects the change feed transport (kv or redis)
	Feed string `json:"feed" validate:"oneof=kv redis"`
	// RedisAddr is the address of the redis server when Feed is redis
	RedisAddr string `json:"redisAddr" validate:"required_if=Feed redis"`
	// RedisStream is the redis stream name
	RedisStream string `json:"redisStream"`
	// RedisClaimIdle is how long an entry must stay pending on another consumer of a watcher's group before the
	// watcher claims it on start
	RedisClaimIdle time.Duration `json:"redisClaimIdle" validate:"min=0"`
}

// SetDefaults fills unset fields with their defaults
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "badger"
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = 10
	}
	if c.Staleness == 0 {
		c.Staleness = 2 * time.Second
	}
	if c.RetryMaxTries == 0 {
		c.RetryMaxTries = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database == "" {
		c.Database = "chronicle"
	}
	if c.DocumentPattern == "" {
		c.DocumentPattern = "bucket_*"
	}
	if c.SchemaCollection == "" {
		c.SchemaCollection = "buckets"
	}
	if c.ConsumerPrefix == "" {
		c.ConsumerPrefix = "chronicle"
	}
	if c.Feed == "" {
		c.Feed = FeedKV
	}
	if c.RedisStream == "" {
		c.RedisStream = "chronicle"
	}
	if c.RedisClaimIdle == 0 {
		c.RedisClaimIdle = 30 * time.Second
	}
}

// Validate validates the config
func (c Config) Validate() error {
	if err := util.ValidateStruct(c); err != nil {
		return errors.Wrap(err, errors.Validation, "invalid config")
	}
	return nil
}

// CollectionPrefix returns the collection name prefix of bucket documents
func (c Config) CollectionPrefix() string {
	return strings.TrimSuffix(c.DocumentPattern, "*")
}

// LoadConfig decodes a config from generic values (ex: a parsed config file), applies defaults and validates it
func LoadConfig(values map[string]any) (Config, error) {
	var c Config
	if err := util.Decode(values, &c); err != nil {
		return Config{}, errors.Wrap(err, errors.Validation, "failed to decode config")
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
