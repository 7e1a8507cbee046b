// Package osm contains the OpenStreetMap entities carried by PBF blocks.
package osm

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type Type uint8

const (
	TypeNode Type = iota
	TypeWay
	TypeRelation
)

func (t Type) String() string {
	switch t {
	case TypeNode:
		return "node"
	case TypeWay:
		return "way"
	case TypeRelation:
		return "relation"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "node", "n":
		return TypeNode, nil
	case "way", "w":
		return TypeWay, nil
	case "relation", "r":
		return TypeRelation, nil
	}
	return 0, errors.Errorf("unknown entity type %q", s)
}

// Entity is implemented by *Node, *Way and *Relation.
type Entity interface {
	EntityType() Type
	GetID() int64
	GetTags() Tags
	GetInfo() Info
}

type Tag struct {
	Key   string
	Value string
}

type Tags []Tag

// TagsFromMap converts a map into tags sorted by key.
func TagsFromMap(m map[string]string) Tags {
	if len(m) == 0 {
		return nil
	}
	tags := lo.Map(lo.Entries(m), func(e lo.Entry[string, string], _ int) Tag {
		return Tag{Key: e.Key, Value: e.Value}
	})
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

// Get returns the value of the first tag with the key.
func (t Tags) Get(key string) (string, bool) {
	tag, ok := lo.Find(t, func(tag Tag) bool { return tag.Key == key })
	return tag.Value, ok
}

// Info is the optional metadata of an entity.
type Info struct {
	Version   int32
	Timestamp time.Time
	Changeset int64
	UID       int32
	User      string
	Visible   bool
}

type Node struct {
	ID   int64
	Lat  float64
	Lon  float64
	Tags Tags
	Info Info
}

func (n *Node) EntityType() Type { return TypeNode }
func (n *Node) GetID() int64     { return n.ID }
func (n *Node) GetTags() Tags    { return n.Tags }
func (n *Node) GetInfo() Info    { return n.Info }

type Way struct {
	ID   int64
	Refs []int64
	Tags Tags
	Info Info
}

func (w *Way) EntityType() Type { return TypeWay }
func (w *Way) GetID() int64     { return w.ID }
func (w *Way) GetTags() Tags    { return w.Tags }
func (w *Way) GetInfo() Info    { return w.Info }

type Member struct {
	Type Type
	Ref  int64
	Role string
}

type Relation struct {
	ID      int64
	Members []Member
	Tags    Tags
	Info    Info
}

func (r *Relation) EntityType() Type { return TypeRelation }
func (r *Relation) GetID() int64     { return r.ID }
func (r *Relation) GetTags() Tags    { return r.Tags }
func (r *Relation) GetInfo() Info    { return r.Info }
