package pbf

import (
	"flag"
	"runtime"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Config_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Config{
		UseDenseNodes:       true,
		AddMetadata:         true,
		AddVisibleFlag:      false,
		Granularity:         100,
		DateGranularity:     1000,
		MaxEntitiesPerBlock: 8000,
		Concurrency:         runtime.GOMAXPROCS(0),
	}, cfg)
	require.NoError(t, cfg.Validate())
}

func Test_Config_Flags(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-pbf.use-dense-nodes=false",
		"-pbf.granularity=1000",
		"-pbf.max-entities-per-block=100",
	}))
	assert.False(t, cfg.UseDenseNodes)
	assert.Equal(t, 1000, cfg.Granularity)
	assert.Equal(t, 100, cfg.MaxEntitiesPerBlock)
	assert.True(t, cfg.AddMetadata)
}

func Test_Config_Validate(t *testing.T) {
	cfg := Config{Granularity: -1, DateGranularity: 1 << 40}
	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 4)
	assert.Contains(t, err.Error(), "granularity must be a positive int32, got -1")
	assert.Contains(t, err.Error(), "concurrency must be positive, got 0")
}
