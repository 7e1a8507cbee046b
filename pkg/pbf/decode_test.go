package pbf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/grafana/osmpbf/pkg/osm"
)

// decodedBlock is a PrimitiveBlock read back by the tests.
type decodedBlock struct {
	Strings         []string
	Groups          []string
	Entities        []osm.Entity
	Granularity     int64
	DateGranularity int64
}

func decodeBlock(t testing.TB, data []byte) *decodedBlock {
	t.Helper()
	d := &decodedBlock{Granularity: defaultGranularity, DateGranularity: defaultDateGranularity}
	var groups [][]byte
	forEachField(t, data, func(num protowire.Number, v uint64, b []byte) {
		switch num {
		case blockStringTable:
			forEachField(t, b, func(num protowire.Number, _ uint64, s []byte) {
				require.Equal(t, stringTableS, num)
				d.Strings = append(d.Strings, string(s))
			})
		case blockPrimitiveGroup:
			groups = append(groups, b)
		case blockGranularity:
			d.Granularity = int64(v)
		case blockDateGranularity:
			d.DateGranularity = int64(v)
		default:
			t.Fatalf("unexpected block field %d", num)
		}
	})
	require.NotEmpty(t, d.Strings, "string table must not be empty")
	require.Equal(t, "", d.Strings[0])
	for _, g := range groups {
		d.decodeGroup(t, g)
	}
	return d
}

func forEachField(t testing.TB, b []byte, fn func(num protowire.Number, v uint64, payload []byte)) {
	t.Helper()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0, "invalid tag")
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			require.GreaterOrEqual(t, n, 0, "invalid varint")
			fn(num, v, nil)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			require.GreaterOrEqual(t, n, 0, "invalid bytes")
			fn(num, 0, v)
			b = b[n:]
		default:
			t.Fatalf("unexpected wire type %d of field %d", typ, num)
		}
	}
}

func varints(t testing.TB, b []byte) []uint64 {
	t.Helper()
	var values []uint64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		require.GreaterOrEqual(t, n, 0, "invalid packed varint")
		values = append(values, v)
		b = b[n:]
	}
	return values
}

func deltas(t testing.TB, b []byte) []int64 {
	t.Helper()
	var (
		values []int64
		prev   int64
	)
	for _, v := range varints(t, b) {
		prev += protowire.DecodeZigZag(v)
		values = append(values, prev)
	}
	return values
}

func (d *decodedBlock) str(t testing.TB, id uint64) string {
	t.Helper()
	require.NotZero(t, id, "string id 0 is reserved")
	require.Less(t, id, uint64(len(d.Strings)))
	return d.Strings[id]
}

func (d *decodedBlock) coordinate(v int64) float64 {
	return float64(v*d.Granularity) / 1e9
}

func (d *decodedBlock) timestamp(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v * d.DateGranularity).UTC()
}

func (d *decodedBlock) decodeGroup(t testing.TB, b []byte) {
	kinds := map[protowire.Number]string{
		groupNodes:     "nodes",
		groupDense:     "dense",
		groupWays:      "ways",
		groupRelations: "relations",
	}
	var kind string
	forEachField(t, b, func(num protowire.Number, _ uint64, payload []byte) {
		k, ok := kinds[num]
		require.True(t, ok, "unexpected group field %d", num)
		if kind == "" {
			kind = k
			d.Groups = append(d.Groups, k)
		}
		require.Equal(t, kind, k, "group mixes entity kinds")
		switch num {
		case groupNodes:
			d.Entities = append(d.Entities, d.decodeNode(t, payload))
		case groupDense:
			d.Entities = append(d.Entities, d.decodeDense(t, payload)...)
		case groupWays:
			d.Entities = append(d.Entities, d.decodeWay(t, payload))
		case groupRelations:
			d.Entities = append(d.Entities, d.decodeRelation(t, payload))
		}
	})
}

func (d *decodedBlock) decodeTags(t testing.TB, keys, vals []uint64) osm.Tags {
	require.Len(t, vals, len(keys))
	if len(keys) == 0 {
		return nil
	}
	tags := make(osm.Tags, len(keys))
	for i := range keys {
		tags[i] = osm.Tag{Key: d.str(t, keys[i]), Value: d.str(t, vals[i])}
	}
	return tags
}

func (d *decodedBlock) decodeInfo(t testing.TB, b []byte) osm.Info {
	info := osm.Info{Visible: true}
	forEachField(t, b, func(num protowire.Number, v uint64, _ []byte) {
		switch num {
		case infoVersion:
			info.Version = int32(v)
		case infoTimestamp:
			info.Timestamp = d.timestamp(int64(v))
		case infoChangeset:
			info.Changeset = int64(v)
		case infoUID:
			info.UID = int32(v)
		case infoUserSID:
			info.User = d.str(t, v)
		case infoVisible:
			info.Visible = protowire.DecodeBool(v)
		}
	})
	return info
}

func (d *decodedBlock) decodeNode(t testing.TB, b []byte) *osm.Node {
	n := new(osm.Node)
	var keys, vals []uint64
	forEachField(t, b, func(num protowire.Number, v uint64, payload []byte) {
		switch num {
		case entityID:
			n.ID = protowire.DecodeZigZag(v)
		case entityKeys:
			keys = varints(t, payload)
		case entityVals:
			vals = varints(t, payload)
		case entityInfo:
			n.Info = d.decodeInfo(t, payload)
		case nodeLat:
			n.Lat = d.coordinate(protowire.DecodeZigZag(v))
		case nodeLon:
			n.Lon = d.coordinate(protowire.DecodeZigZag(v))
		}
	})
	n.Tags = d.decodeTags(t, keys, vals)
	return n
}

func (d *decodedBlock) decodeWay(t testing.TB, b []byte) *osm.Way {
	w := new(osm.Way)
	var keys, vals []uint64
	forEachField(t, b, func(num protowire.Number, v uint64, payload []byte) {
		switch num {
		case entityID:
			w.ID = int64(v)
		case entityKeys:
			keys = varints(t, payload)
		case entityVals:
			vals = varints(t, payload)
		case entityInfo:
			w.Info = d.decodeInfo(t, payload)
		case wayRefs:
			w.Refs = deltas(t, payload)
		}
	})
	w.Tags = d.decodeTags(t, keys, vals)
	return w
}

func (d *decodedBlock) decodeRelation(t testing.TB, b []byte) *osm.Relation {
	r := new(osm.Relation)
	var keys, vals, roles, types []uint64
	var memids []int64
	forEachField(t, b, func(num protowire.Number, v uint64, payload []byte) {
		switch num {
		case entityID:
			r.ID = int64(v)
		case entityKeys:
			keys = varints(t, payload)
		case entityVals:
			vals = varints(t, payload)
		case entityInfo:
			r.Info = d.decodeInfo(t, payload)
		case relationRoles:
			roles = varints(t, payload)
		case relationMemIDs:
			memids = deltas(t, payload)
		case relationTypes:
			types = varints(t, payload)
		}
	})
	r.Tags = d.decodeTags(t, keys, vals)
	require.Len(t, memids, len(roles))
	require.Len(t, types, len(roles))
	if len(roles) > 0 {
		r.Members = make([]osm.Member, len(roles))
		for i := range roles {
			r.Members[i] = osm.Member{Type: osm.Type(types[i]), Ref: memids[i], Role: d.str(t, roles[i])}
		}
	}
	return r
}

func (d *decodedBlock) decodeDense(t testing.TB, b []byte) []osm.Entity {
	var (
		ids, lats, lons []int64
		keysVals        []uint64
		info            []byte
		hasInfo         bool
	)
	forEachField(t, b, func(num protowire.Number, _ uint64, payload []byte) {
		switch num {
		case denseID:
			ids = deltas(t, payload)
		case denseInfo:
			info, hasInfo = payload, true
		case denseLat:
			lats = deltas(t, payload)
		case denseLon:
			lons = deltas(t, payload)
		case denseKeysVals:
			keysVals = varints(t, payload)
		}
	})
	require.Len(t, lats, len(ids))
	require.Len(t, lons, len(ids))

	nodes := make([]*osm.Node, len(ids))
	for i := range ids {
		nodes[i] = &osm.Node{ID: ids[i], Lat: d.coordinate(lats[i]), Lon: d.coordinate(lons[i])}
	}
	if len(keysVals) > 0 {
		i := 0
		for _, n := range nodes {
			var keys, vals []uint64
			for ; keysVals[i] != 0; i += 2 {
				keys = append(keys, keysVals[i])
				vals = append(vals, keysVals[i+1])
			}
			i++
			n.Tags = d.decodeTags(t, keys, vals)
		}
		require.Equal(t, len(keysVals), i)
	}
	if hasInfo {
		d.decodeDenseInfo(t, info, nodes)
	}

	entities := make([]osm.Entity, len(nodes))
	for i, n := range nodes {
		entities[i] = n
	}
	return entities
}

func (d *decodedBlock) decodeDenseInfo(t testing.TB, b []byte, nodes []*osm.Node) {
	var (
		versions, visible                  []uint64
		timestamps, changesets, uids, sids []int64
	)
	forEachField(t, b, func(num protowire.Number, _ uint64, payload []byte) {
		switch num {
		case infoVersion:
			versions = varints(t, payload)
		case infoTimestamp:
			timestamps = deltas(t, payload)
		case infoChangeset:
			changesets = deltas(t, payload)
		case infoUID:
			uids = deltas(t, payload)
		case infoUserSID:
			sids = deltas(t, payload)
		case infoVisible:
			visible = varints(t, payload)
		}
	})
	for i, n := range nodes {
		n.Info = osm.Info{
			Version:   int32(versions[i]),
			Timestamp: d.timestamp(timestamps[i]),
			Changeset: changesets[i],
			UID:       int32(uids[i]),
			User:      d.str(t, uint64(sids[i])),
			Visible:   true,
		}
		if visible != nil {
			n.Info.Visible = protowire.DecodeBool(visible[i])
		}
	}
}
