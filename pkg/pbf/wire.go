package pbf

import (
	"github.com/colega/zeropool"
	"google.golang.org/protobuf/encoding/protowire"
)

var scratchPool = zeropool.New(func() []byte { return make([]byte, 0, 4<<10) })

// appendMessage appends a length-delimited field with the payload fn writes.
func appendMessage(b []byte, num protowire.Number, fn func([]byte) []byte) []byte {
	buf := fn(scratchPool.Get()[:0])
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, buf)
	scratchPool.Put(buf)
	return b
}

// appendPacked is appendMessage for packed repeated fields: nothing is
// written for n == 0.
func appendPacked(b []byte, num protowire.Number, n int, fn func([]byte) []byte) []byte {
	if n == 0 {
		return b
	}
	return appendMessage(b, num, fn)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendInt writes int32 and int64 fields, negative values take ten bytes.
func appendInt(b []byte, num protowire.Number, v int64) []byte {
	return appendUint(b, num, uint64(v))
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	return appendUint(b, num, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendUint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendPackedDelta(b []byte, num protowire.Number, values []int64) []byte {
	return appendPacked(b, num, len(values), func(dst []byte) []byte {
		var prev int64
		for _, v := range values {
			dst = protowire.AppendVarint(dst, protowire.EncodeZigZag(v-prev))
			prev = v
		}
		return dst
	})
}
