package pbf

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/osmpbf/pkg/osm"
	"github.com/grafana/osmpbf/pkg/stringtable"
)

// Block is an encoded PrimitiveBlock.
type Block struct {
	Data  []byte
	Stats Stats
}

// Encoder splits entities into blocks and encodes them in parallel. Every
// block is built by a worker that owns its builder, and with it the string
// table, until the block is encoded.
type Encoder struct {
	cfg      Config
	logger   log.Logger
	metrics  *Metrics
	builders sync.Pool
}

// NewEncoder validates cfg and returns an Encoder. A nil logger or nil
// metrics disable logging or metrics respectively.
func NewEncoder(cfg Config, logger log.Logger, metrics *Metrics) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pbf config")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	e := &Encoder{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	e.builders.New = func() any { return NewBlockBuilder(cfg) }
	return e, nil
}

// EncodeAll encodes the entities into blocks of at most MaxEntitiesPerBlock
// entities each, preserving their order. Any failed block fails the whole
// call.
func (e *Encoder) EncodeAll(ctx context.Context, entities []osm.Entity) ([]Block, error) {
	chunks := lo.Chunk(entities, e.cfg.MaxEntitiesPerBlock)
	blocks := make([]Block, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var err error
			blocks[i], err = e.encodeBlock(i, chunk)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// gctx is always done once Wait returns.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (e *Encoder) encodeBlock(n int, entities []osm.Entity) (Block, error) {
	b := e.builders.Get().(*BlockBuilder)
	defer func() {
		b.Reset()
		e.builders.Put(b)
	}()

	block, err := e.build(b, entities)
	e.metrics.observe(block.Stats, err)
	if err != nil {
		lvl := level.Warn
		if errors.Is(err, stringtable.ErrCapacityExceeded) {
			lvl = level.Error
		}
		lvl(e.logger).Log("msg", "failed to encode block", "block", n, "entities", len(entities), "err", err)
		return Block{}, errors.Wrapf(err, "block %d", n)
	}
	level.Debug(e.logger).Log(
		"msg", "block encoded",
		"block", n,
		"entities", block.Stats.Entities,
		"groups", block.Stats.Groups,
		"strings", block.Stats.Strings,
		"bytes", block.Stats.Bytes,
		"ref_bytes_saved", block.Stats.RefBytesSaved(),
	)
	return block, nil
}

func (e *Encoder) build(b *BlockBuilder, entities []osm.Entity) (Block, error) {
	for _, entity := range entities {
		if err := b.Add(entity); err != nil {
			return Block{}, err
		}
	}
	data, stats, err := b.Encode()
	if err != nil {
		return Block{}, err
	}
	return Block{Data: data, Stats: stats}, nil
}
