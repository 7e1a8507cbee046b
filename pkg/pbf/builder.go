// Package pbf encodes OpenStreetMap entities into PBF PrimitiveBlocks.
package pbf

import (
	"math"

	"github.com/pkg/errors"

	"github.com/grafana/osmpbf/pkg/osm"
	"github.com/grafana/osmpbf/pkg/stringtable"
)

type groupKind uint8

const (
	denseNodesGroup groupKind = iota
	nodesGroup
	waysGroup
	relationsGroup
)

// Entities are kept until the block is encoded: string references hold
// provisional ids that are only translated once the string table is final.

type info struct {
	version   int32
	timestamp int64
	changeset int64
	uid       int32
	user      stringtable.ID
	visible   bool
}

type tags struct {
	keys []stringtable.ID
	vals []stringtable.ID
}

type node struct {
	id  int64
	lat int64
	lon int64
	tags
	info
}

type way struct {
	id   int64
	refs []int64
	tags
	info
}

type relation struct {
	id     int64
	roles  []stringtable.ID
	memids []int64
	types  []osm.Type
	tags
	info
}

type group struct {
	kind      groupKind
	nodes     []node
	ways      []way
	relations []relation
}

// BlockBuilder collects the entities of a single PrimitiveBlock.
// A builder is not safe for concurrent use; call Reset before reusing it for
// the next block.
type BlockBuilder struct {
	cfg      Config
	strings  *stringtable.Table
	groups   []group
	entities int
	// Set once the block cannot be encoded anymore.
	err error
}

// NewBlockBuilder returns an empty builder for blocks laid out by cfg.
func NewBlockBuilder(cfg Config) *BlockBuilder {
	return &BlockBuilder{
		cfg:     cfg,
		strings: stringtable.NewWithSize(1 << 10),
	}
}

// Add appends the entity to the block. Once an error is returned the block
// is lost: every subsequent Add and Encode returns the same error.
func (b *BlockBuilder) Add(e osm.Entity) error {
	if b.err != nil {
		return b.err
	}
	if b.strings.State() != stringtable.Building {
		panic("pbf: entity added to an encoded block")
	}
	if err := b.add(e); err != nil {
		b.err = errors.Wrapf(err, "add %s %d", e.EntityType(), e.GetID())
		return b.err
	}
	b.entities++
	return nil
}

// Len returns the number of entities added to the block.
func (b *BlockBuilder) Len() int { return b.entities }

// Full reports whether the block reached the configured entity limit.
func (b *BlockBuilder) Full() bool { return b.entities >= b.cfg.MaxEntitiesPerBlock }

// Reset discards the block, including a sticky error, so the builder can
// start the next one.
func (b *BlockBuilder) Reset() {
	b.strings.Reset()
	clear(b.groups)
	b.groups = b.groups[:0]
	b.entities = 0
	b.err = nil
}

func (b *BlockBuilder) add(e osm.Entity) error {
	t, err := b.recordTags(e.GetTags())
	if err != nil {
		return err
	}
	i, err := b.recordInfo(e.GetInfo())
	if err != nil {
		return err
	}
	switch e := e.(type) {
	case *osm.Node:
		kind := nodesGroup
		if b.cfg.UseDenseNodes {
			kind = denseNodesGroup
		}
		g := b.group(kind)
		g.nodes = append(g.nodes, node{
			id:   e.ID,
			lat:  b.coordinate(e.Lat),
			lon:  b.coordinate(e.Lon),
			tags: t,
			info: i,
		})
	case *osm.Way:
		g := b.group(waysGroup)
		g.ways = append(g.ways, way{id: e.ID, refs: e.Refs, tags: t, info: i})
	case *osm.Relation:
		r := relation{
			id:     e.ID,
			roles:  make([]stringtable.ID, len(e.Members)),
			memids: make([]int64, len(e.Members)),
			types:  make([]osm.Type, len(e.Members)),
			tags:   t,
			info:   i,
		}
		for j, m := range e.Members {
			if r.roles[j], err = b.strings.Record(m.Role); err != nil {
				return err
			}
			r.memids[j] = m.Ref
			r.types[j] = m.Type
		}
		g := b.group(relationsGroup)
		g.relations = append(g.relations, r)
	default:
		return errors.Errorf("unsupported entity %T", e)
	}
	return nil
}

// group returns the group entities of the kind are appended to. A group
// holds a single kind of entity, a new one starts whenever the kind changes.
func (b *BlockBuilder) group(kind groupKind) *group {
	if n := len(b.groups); n > 0 && b.groups[n-1].kind == kind {
		return &b.groups[n-1]
	}
	b.groups = append(b.groups, group{kind: kind})
	return &b.groups[len(b.groups)-1]
}

func (b *BlockBuilder) recordTags(src osm.Tags) (t tags, err error) {
	if len(src) == 0 {
		return t, nil
	}
	t.keys = make([]stringtable.ID, len(src))
	t.vals = make([]stringtable.ID, len(src))
	for i, tag := range src {
		if t.keys[i], err = b.strings.Record(tag.Key); err != nil {
			return t, err
		}
		if t.vals[i], err = b.strings.Record(tag.Value); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (b *BlockBuilder) recordInfo(src osm.Info) (i info, err error) {
	if !b.cfg.AddMetadata {
		return i, nil
	}
	i = info{
		version:   src.Version,
		timestamp: b.timestamp(src),
		changeset: src.Changeset,
		uid:       src.UID,
		visible:   src.Visible,
	}
	i.user, err = b.strings.Record(src.User)
	return i, err
}

func (b *BlockBuilder) coordinate(deg float64) int64 {
	return int64(math.Round(deg * 1e9 / float64(b.cfg.Granularity)))
}

func (b *BlockBuilder) timestamp(src osm.Info) int64 {
	if src.Timestamp.IsZero() {
		return 0
	}
	ms, gran := src.Timestamp.UnixMilli(), int64(b.cfg.DateGranularity)
	// Floored, pre-1970 timestamps are negative.
	ts := ms / gran
	if ms%gran != 0 && ms < 0 {
		ts--
	}
	return ts
}
