// Package stringtable builds the per-block string table of a PBF
// PrimitiveBlock.
//
// Every string referenced by a block is stored once in the block's string
// table and referenced elsewhere by its index. Indices are varint encoded, so
// the most frequently used strings are placed at the lowest indices. The
// final order is only known once the block is complete, which is why ids are
// assigned in two phases:
//
//  1. While the block is being built, Record returns a provisional id in
//     first-seen order and counts repeated uses.
//  2. Finalize sorts the strings by usage and returns the table to write.
//     From then on Map translates provisional ids into final ones.
//
// Reset prepares the table for the next block. A Table must not be shared
// between blocks that are built concurrently.
package stringtable

import (
	"fmt"
	"math"
	"sort"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
)

// ID is a string reference, both provisional and final.
// Zero is reserved for the empty delimiter string at index 0.
type ID = uint16

// MaxID is the largest id a table can assign, and therefore the maximum
// number of distinct strings per block.
const MaxID = math.MaxUint16

// ErrCapacityExceeded is returned by Record when a new string does not fit
// into the id space of the block.
var ErrCapacityExceeded = errors.New("string table capacity exceeded")

// State is the lifecycle stage of a Table.
type State uint8

const (
	// Building accepts Record calls.
	Building State = iota
	// Finalized accepts Map calls.
	Finalized
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

type entry struct {
	text string
	// Uses after the first one.
	count uint32
}

// Table interns the strings of a single block.
type Table struct {
	state State
	limit int

	ids *swiss.Map[string, ID]
	// entries[id-1] holds the string with provisional id.
	entries []entry
	// remap[provisional] = final, remap[0] is unused.
	remap []ID
}

// New creates an empty table.
func New() *Table { return NewWithSize(0) }

// NewWithSize creates an empty table with room for hint distinct strings.
func NewWithSize(hint int) *Table { return newTable(hint, MaxID) }

func newTable(hint, limit int) *Table {
	if hint < 0 {
		hint = 0
	}
	if hint > limit {
		hint = limit
	}
	return &Table{
		limit:   limit,
		ids:     swiss.NewMap[string, ID](uint32(max(hint, 16))),
		entries: make([]entry, 0, hint),
	}
}

// Record returns the provisional id of s, assigning the next free one if the
// string has not been seen in the current block yet.
func (t *Table) Record(s string) (ID, error) {
	if t.state != Building {
		panic(fmt.Sprintf("stringtable: record %q on a %s table", s, t.state))
	}
	if id, ok := t.ids.Get(s); ok {
		t.entries[id-1].count++
		return id, nil
	}
	if len(t.entries) >= t.limit {
		return 0, errors.Wrapf(ErrCapacityExceeded, "block already holds %d distinct strings", len(t.entries))
	}
	t.entries = append(t.entries, entry{text: s})
	id := ID(len(t.entries))
	t.ids.Put(s, id)
	return id, nil
}

// Finalize orders the recorded strings by descending number of uses, ties
// broken by descending byte-wise order, and returns the string table to
// write. The first element is always the empty string.
//
// Finalize must be called exactly once per block.
func (t *Table) Finalize() []string {
	if t.state != Building {
		panic(fmt.Sprintf("stringtable: finalize on a %s table", t.state))
	}
	order := make([]ID, len(t.entries))
	for i := range order {
		order[i] = ID(i + 1)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := &t.entries[order[i]-1], &t.entries[order[j]-1]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.text > b.text
	})

	strings := make([]string, 1, len(order)+1)
	if cap(t.remap) < len(order)+1 {
		t.remap = make([]ID, len(order)+1)
	}
	t.remap = t.remap[:len(order)+1]
	t.remap[0] = 0
	for i, p := range order {
		strings = append(strings, t.entries[p-1].text)
		t.remap[p] = ID(i + 1)
	}
	t.state = Finalized
	return strings
}

// Map translates a provisional id into the final one. It is only valid
// between Finalize and Reset, for ids returned by Record.
func (t *Table) Map(id ID) ID {
	if t.state != Finalized {
		panic(fmt.Sprintf("stringtable: map id %d on a %s table", id, t.state))
	}
	if id == 0 || int(id) >= len(t.remap) {
		panic(fmt.Sprintf("stringtable: unable to map id %d", id))
	}
	return t.remap[id]
}

// Reset clears the table for the next block. Allocated memory is kept.
func (t *Table) Reset() {
	t.ids.Clear()
	clear(t.entries)
	t.entries = t.entries[:0]
	t.remap = t.remap[:0]
	t.state = Building
}

// Len returns the number of distinct strings recorded in the current block.
func (t *Table) Len() int { return len(t.entries) }

// State returns the lifecycle stage of the table.
func (t *Table) State() State { return t.state }

// Count returns how many times s was recorded after its first use.
func (t *Table) Count(s string) (uint32, bool) {
	id, ok := t.ids.Get(s)
	if !ok {
		return 0, false
	}
	return t.entries[id-1].count, true
}
