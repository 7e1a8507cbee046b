package pbf

import (
	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/grafana/osmpbf/pkg/stringtable"
)

// Field numbers of the OSM PBF schema (osmformat.proto).
const (
	blockStringTable     protowire.Number = 1
	blockPrimitiveGroup  protowire.Number = 2
	blockGranularity     protowire.Number = 17
	blockDateGranularity protowire.Number = 18

	stringTableS protowire.Number = 1

	groupNodes     protowire.Number = 1
	groupDense     protowire.Number = 2
	groupWays      protowire.Number = 3
	groupRelations protowire.Number = 4

	infoVersion   protowire.Number = 1
	infoTimestamp protowire.Number = 2
	infoChangeset protowire.Number = 3
	infoUID       protowire.Number = 4
	infoUserSID   protowire.Number = 5
	infoVisible   protowire.Number = 6

	// Node, Way and Relation share the leading fields.
	entityID   protowire.Number = 1
	entityKeys protowire.Number = 2
	entityVals protowire.Number = 3
	entityInfo protowire.Number = 4

	nodeLat protowire.Number = 8
	nodeLon protowire.Number = 9

	denseID       protowire.Number = 1
	denseInfo     protowire.Number = 5
	denseLat      protowire.Number = 8
	denseLon      protowire.Number = 9
	denseKeysVals protowire.Number = 10

	wayRefs protowire.Number = 8

	relationRoles  protowire.Number = 8
	relationMemIDs protowire.Number = 9
	relationTypes  protowire.Number = 10
)

// Stats describes an encoded block.
type Stats struct {
	Entities int `json:"entities"`
	Groups   int `json:"groups"`
	// Distinct strings, without the empty string at index 0.
	Strings          int `json:"strings"`
	Bytes            int `json:"bytes"`
	StringTableBytes int `json:"string_table_bytes"`
	// Varint bytes taken by string references, with final ids and with the
	// provisional first-seen ids the references would have without
	// reordering. Delta coded references are counted by absolute value.
	RefBytes            int    `json:"ref_bytes"`
	ProvisionalRefBytes int    `json:"provisional_ref_bytes"`
	Digest              uint64 `json:"digest"`
}

// RefBytesSaved is the number of bytes saved by frequency ordering.
func (s Stats) RefBytesSaved() int { return s.ProvisionalRefBytes - s.RefBytes }

// refs translates provisional string ids and accounts for their size.
type refs struct {
	table       *stringtable.Table
	final       int
	provisional int
}

func (r *refs) id(p stringtable.ID) uint64 {
	f := uint64(r.table.Map(p))
	r.final += protowire.SizeVarint(f)
	r.provisional += protowire.SizeVarint(uint64(p))
	return f
}

// Encode finalizes the string table and returns the serialized
// PrimitiveBlock message. The builder must be reset before it is reused.
func (b *BlockBuilder) Encode() ([]byte, Stats, error) {
	if b.err != nil {
		return nil, Stats{}, b.err
	}
	strings := b.strings.Finalize()
	r := &refs{table: b.strings}

	out := make([]byte, 0, 64<<10)
	out = appendMessage(out, blockStringTable, func(dst []byte) []byte {
		for _, s := range strings {
			dst = appendString(dst, stringTableS, s)
		}
		return dst
	})
	stringTableBytes := len(out)
	for i := range b.groups {
		g := &b.groups[i]
		out = appendMessage(out, blockPrimitiveGroup, func(dst []byte) []byte {
			return b.appendGroup(dst, g, r)
		})
	}
	if b.cfg.Granularity != defaultGranularity {
		out = appendInt(out, blockGranularity, int64(b.cfg.Granularity))
	}
	if b.cfg.DateGranularity != defaultDateGranularity {
		out = appendInt(out, blockDateGranularity, int64(b.cfg.DateGranularity))
	}

	return out, Stats{
		Entities:            b.entities,
		Groups:              len(b.groups),
		Strings:             len(strings) - 1,
		Bytes:               len(out),
		StringTableBytes:    stringTableBytes,
		RefBytes:            r.final,
		ProvisionalRefBytes: r.provisional,
		Digest:              xxhash.Sum64(out),
	}, nil
}

func (b *BlockBuilder) appendGroup(dst []byte, g *group, r *refs) []byte {
	switch g.kind {
	case denseNodesGroup:
		return appendMessage(dst, groupDense, func(dst []byte) []byte {
			return b.appendDenseNodes(dst, g.nodes, r)
		})
	case nodesGroup:
		for i := range g.nodes {
			n := &g.nodes[i]
			dst = appendMessage(dst, groupNodes, func(dst []byte) []byte {
				dst = appendSint(dst, entityID, n.id)
				dst = b.appendTags(dst, &n.tags, r)
				dst = b.appendInfo(dst, &n.info, r)
				dst = appendSint(dst, nodeLat, n.lat)
				return appendSint(dst, nodeLon, n.lon)
			})
		}
	case waysGroup:
		for i := range g.ways {
			w := &g.ways[i]
			dst = appendMessage(dst, groupWays, func(dst []byte) []byte {
				dst = appendInt(dst, entityID, w.id)
				dst = b.appendTags(dst, &w.tags, r)
				dst = b.appendInfo(dst, &w.info, r)
				return appendPackedDelta(dst, wayRefs, w.refs)
			})
		}
	case relationsGroup:
		for i := range g.relations {
			rel := &g.relations[i]
			dst = appendMessage(dst, groupRelations, func(dst []byte) []byte {
				dst = appendInt(dst, entityID, rel.id)
				dst = b.appendTags(dst, &rel.tags, r)
				dst = b.appendInfo(dst, &rel.info, r)
				dst = appendPacked(dst, relationRoles, len(rel.roles), func(dst []byte) []byte {
					for _, role := range rel.roles {
						dst = protowire.AppendVarint(dst, r.id(role))
					}
					return dst
				})
				dst = appendPackedDelta(dst, relationMemIDs, rel.memids)
				return appendPacked(dst, relationTypes, len(rel.types), func(dst []byte) []byte {
					for _, t := range rel.types {
						dst = protowire.AppendVarint(dst, uint64(t))
					}
					return dst
				})
			})
		}
	}
	return dst
}

func (b *BlockBuilder) appendTags(dst []byte, t *tags, r *refs) []byte {
	dst = appendPacked(dst, entityKeys, len(t.keys), func(dst []byte) []byte {
		for _, k := range t.keys {
			dst = protowire.AppendVarint(dst, r.id(k))
		}
		return dst
	})
	return appendPacked(dst, entityVals, len(t.vals), func(dst []byte) []byte {
		for _, v := range t.vals {
			dst = protowire.AppendVarint(dst, r.id(v))
		}
		return dst
	})
}

func (b *BlockBuilder) appendInfo(dst []byte, i *info, r *refs) []byte {
	if !b.cfg.AddMetadata {
		return dst
	}
	return appendMessage(dst, entityInfo, func(dst []byte) []byte {
		dst = appendInt(dst, infoVersion, int64(i.version))
		dst = appendInt(dst, infoTimestamp, i.timestamp)
		dst = appendInt(dst, infoChangeset, i.changeset)
		dst = appendInt(dst, infoUID, int64(i.uid))
		dst = appendUint(dst, infoUserSID, r.id(i.user))
		if b.cfg.AddVisibleFlag {
			dst = appendBool(dst, infoVisible, i.visible)
		}
		return dst
	})
}

func (b *BlockBuilder) appendDenseNodes(dst []byte, nodes []node, r *refs) []byte {
	ids := make([]int64, len(nodes))
	lats := make([]int64, len(nodes))
	lons := make([]int64, len(nodes))
	for i := range nodes {
		ids[i], lats[i], lons[i] = nodes[i].id, nodes[i].lat, nodes[i].lon
	}
	dst = appendPackedDelta(dst, denseID, ids)
	if b.cfg.AddMetadata {
		dst = appendMessage(dst, denseInfo, func(dst []byte) []byte {
			return b.appendDenseInfo(dst, nodes, r)
		})
	}
	dst = appendPackedDelta(dst, denseLat, lats)
	dst = appendPackedDelta(dst, denseLon, lons)

	// Keys and values of every node, each node terminated by 0. The field is
	// omitted when none of the nodes is tagged.
	if !lo.SomeBy(nodes, func(n node) bool { return len(n.keys) > 0 }) {
		return dst
	}
	return appendMessage(dst, denseKeysVals, func(dst []byte) []byte {
		for i := range nodes {
			n := &nodes[i]
			for j := range n.keys {
				dst = protowire.AppendVarint(dst, r.id(n.keys[j]))
				dst = protowire.AppendVarint(dst, r.id(n.vals[j]))
			}
			dst = protowire.AppendVarint(dst, 0)
		}
		return dst
	})
}

func (b *BlockBuilder) appendDenseInfo(dst []byte, nodes []node, r *refs) []byte {
	dst = appendPacked(dst, infoVersion, len(nodes), func(dst []byte) []byte {
		for i := range nodes {
			dst = protowire.AppendVarint(dst, uint64(int64(nodes[i].version)))
		}
		return dst
	})
	timestamps := make([]int64, len(nodes))
	changesets := make([]int64, len(nodes))
	uids := make([]int64, len(nodes))
	users := make([]int64, len(nodes))
	for i := range nodes {
		timestamps[i] = nodes[i].timestamp
		changesets[i] = nodes[i].changeset
		uids[i] = int64(nodes[i].uid)
		users[i] = int64(r.id(nodes[i].user))
	}
	dst = appendPackedDelta(dst, infoTimestamp, timestamps)
	dst = appendPackedDelta(dst, infoChangeset, changesets)
	dst = appendPackedDelta(dst, infoUID, uids)
	dst = appendPackedDelta(dst, infoUserSID, users)
	if b.cfg.AddVisibleFlag {
		dst = appendPacked(dst, infoVisible, len(nodes), func(dst []byte) []byte {
			for i := range nodes {
				dst = protowire.AppendVarint(dst, protowire.EncodeBool(nodes[i].visible))
			}
			return dst
		})
	}
	return dst
}
