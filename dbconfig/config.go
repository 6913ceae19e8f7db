// Package dbconfig centralizes the tunables every component in dbcore
// needs (page size, pool size, tree fanout, join partitioning), built with
// functional options so defaults live in one place instead of being
// repeated at every call site.
package dbconfig

const (
	DefaultPageSize           = 4096
	DefaultPoolFrames         = 64
	DefaultLeafMaxSize        = 32
	DefaultInternalMaxSize    = 32
	DefaultTombstoneCap       = 4
	DefaultHashJoinPartitions = 10
	DefaultBatchSize          = 256
)

type Config struct {
	PageSize           int
	PoolFrames         int
	LeafMaxSize        int
	InternalMaxSize    int
	TombstoneCap       int
	HashJoinPartitions int
	BatchSize          int
}

type Option func(*Config)

func WithPageSize(n int) Option           { return func(c *Config) { c.PageSize = n } }
func WithPoolFrames(n int) Option         { return func(c *Config) { c.PoolFrames = n } }
func WithLeafMaxSize(n int) Option        { return func(c *Config) { c.LeafMaxSize = n } }
func WithInternalMaxSize(n int) Option    { return func(c *Config) { c.InternalMaxSize = n } }
func WithTombstoneCap(n int) Option       { return func(c *Config) { c.TombstoneCap = n } }
func WithHashJoinPartitions(n int) Option { return func(c *Config) { c.HashJoinPartitions = n } }
func WithBatchSize(n int) Option          { return func(c *Config) { c.BatchSize = n } }

func New(opts ...Option) Config {
	cfg := Config{
		PageSize:           DefaultPageSize,
		PoolFrames:         DefaultPoolFrames,
		LeafMaxSize:        DefaultLeafMaxSize,
		InternalMaxSize:    DefaultInternalMaxSize,
		TombstoneCap:       DefaultTombstoneCap,
		HashJoinPartitions: DefaultHashJoinPartitions,
		BatchSize:          DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
