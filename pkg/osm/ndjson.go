package osm

import (
	"bufio"
	"bytes"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonEntity is the line format read by Decoder:
//
//	{"type":"node","id":1,"lat":52.5,"lon":13.4,"tags":{"amenity":"cafe"},"user":"alice","version":2}
//	{"type":"way","id":2,"refs":[1,3],"tags":{"highway":"residential"}}
//	{"type":"relation","id":3,"members":[{"type":"way","ref":2,"role":"outer"}]}
type jsonEntity struct {
	Type      string            `json:"type"`
	ID        int64             `json:"id"`
	Lat       float64           `json:"lat"`
	Lon       float64           `json:"lon"`
	Refs      []int64           `json:"refs"`
	Members   []jsonMember      `json:"members"`
	Tags      map[string]string `json:"tags"`
	Version   int32             `json:"version"`
	Timestamp string            `json:"timestamp"`
	Changeset int64             `json:"changeset"`
	UID       int32             `json:"uid"`
	User      string            `json:"user"`
	Visible   *bool             `json:"visible"`
}

type jsonMember struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

// Decoder reads entities from newline delimited JSON.
type Decoder struct {
	r    *bufio.Reader
	line int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// Decode returns the next entity, or io.EOF once the input is exhausted.
// Blank lines are skipped.
func (d *Decoder) Decode() (Entity, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		d.line++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		e, decodeErr := decodeEntity(line)
		if decodeErr != nil {
			return nil, errors.Wrapf(decodeErr, "line %d", d.line)
		}
		return e, nil
	}
}

// ReadAll decodes every entity of r.
func ReadAll(r io.Reader) ([]Entity, error) {
	var entities []Entity
	d := NewDecoder(r)
	for {
		e, err := d.Decode()
		if err == io.EOF {
			return entities, nil
		}
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
}

func decodeEntity(line []byte) (Entity, error) {
	var je jsonEntity
	if err := json.Unmarshal(line, &je); err != nil {
		return nil, err
	}
	typ, err := ParseType(je.Type)
	if err != nil {
		return nil, err
	}
	info := Info{
		Version:   je.Version,
		Changeset: je.Changeset,
		UID:       je.UID,
		User:      je.User,
		Visible:   je.Visible == nil || *je.Visible,
	}
	if je.Timestamp != "" {
		if info.Timestamp, err = time.Parse(time.RFC3339, je.Timestamp); err != nil {
			return nil, errors.Wrap(err, "timestamp")
		}
	}
	tags := TagsFromMap(je.Tags)

	switch typ {
	case TypeNode:
		return &Node{ID: je.ID, Lat: je.Lat, Lon: je.Lon, Tags: tags, Info: info}, nil
	case TypeWay:
		return &Way{ID: je.ID, Refs: je.Refs, Tags: tags, Info: info}, nil
	default:
		members := make([]Member, len(je.Members))
		for i, m := range je.Members {
			if members[i].Type, err = ParseType(m.Type); err != nil {
				return nil, errors.Wrapf(err, "member %d", i)
			}
			members[i].Ref = m.Ref
			members[i].Role = m.Role
		}
		return &Relation{ID: je.ID, Members: members, Tags: tags, Info: info}, nil
	}
}
