package pbf

import (
	"flag"
	"math"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	// Defaults of the PrimitiveBlock message.
	defaultGranularity     = 100
	defaultDateGranularity = 1000

	// The reference writer cuts blocks at 8000 entities.
	defaultMaxEntitiesPerBlock = 8000
)

// Config controls how entities are laid out in PrimitiveBlocks.
type Config struct {
	UseDenseNodes  bool `yaml:"use_dense_nodes"`
	AddMetadata    bool `yaml:"add_metadata"`
	AddVisibleFlag bool `yaml:"add_visible_flag"`
	// Coordinate resolution in nanodegrees.
	Granularity int `yaml:"granularity"`
	// Timestamp resolution in milliseconds.
	DateGranularity     int `yaml:"date_granularity"`
	MaxEntitiesPerBlock int `yaml:"max_entities_per_block"`
	Concurrency         int `yaml:"concurrency"`
}

// RegisterFlags registers the pbf.* flags and sets their defaults.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.BoolVar(&cfg.UseDenseNodes, "pbf.use-dense-nodes", true, "Encode nodes as DenseNodes.")
	f.BoolVar(&cfg.AddMetadata, "pbf.add-metadata", true, "Write version, timestamp, changeset, uid and user of every entity.")
	f.BoolVar(&cfg.AddVisibleFlag, "pbf.add-visible-flag", false, "Write the visible flag. Only meaningful for history files.")
	f.IntVar(&cfg.Granularity, "pbf.granularity", defaultGranularity, "Coordinate resolution in nanodegrees.")
	f.IntVar(&cfg.DateGranularity, "pbf.date-granularity", defaultDateGranularity, "Timestamp resolution in milliseconds.")
	f.IntVar(&cfg.MaxEntitiesPerBlock, "pbf.max-entities-per-block", defaultMaxEntitiesPerBlock, "Maximum number of entities in a single block.")
	f.IntVar(&cfg.Concurrency, "pbf.concurrency", runtime.GOMAXPROCS(0), "Number of blocks encoded in parallel.")
}

// DefaultConfig returns the configuration RegisterFlags defaults to.
func DefaultConfig() Config {
	var cfg Config
	cfg.RegisterFlags(flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}

// Validate reports every invalid setting at once.
func (cfg *Config) Validate() error {
	var err error
	if cfg.Granularity <= 0 || cfg.Granularity > math.MaxInt32 {
		err = multierror.Append(err, errors.Errorf("granularity must be a positive int32, got %d", cfg.Granularity))
	}
	if cfg.DateGranularity <= 0 || cfg.DateGranularity > math.MaxInt32 {
		err = multierror.Append(err, errors.Errorf("date granularity must be a positive int32, got %d", cfg.DateGranularity))
	}
	if cfg.MaxEntitiesPerBlock <= 0 {
		err = multierror.Append(err, errors.Errorf("max entities per block must be positive, got %d", cfg.MaxEntitiesPerBlock))
	}
	if cfg.Concurrency <= 0 {
		err = multierror.Append(err, errors.Errorf("concurrency must be positive, got %d", cfg.Concurrency))
	}
	return err
}
