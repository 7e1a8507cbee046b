package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/grafana/osmpbf/pkg/pbf"
)

type report struct {
	Blocks []pbf.Stats `json:"blocks"`
	Total  total       `json:"total"`
}

type total struct {
	Blocks        int `json:"blocks"`
	Entities      int `json:"entities"`
	Strings       int `json:"strings"`
	Bytes         int `json:"bytes"`
	RefBytes      int `json:"ref_bytes"`
	RefBytesSaved int `json:"ref_bytes_saved"`
}

func newReport(blocks []pbf.Block) report {
	stats := lo.Map(blocks, func(b pbf.Block, _ int) pbf.Stats { return b.Stats })
	return report{
		Blocks: stats,
		Total: total{
			Blocks:        len(stats),
			Entities:      lo.SumBy(stats, func(s pbf.Stats) int { return s.Entities }),
			Strings:       lo.SumBy(stats, func(s pbf.Stats) int { return s.Strings }),
			Bytes:         lo.SumBy(stats, func(s pbf.Stats) int { return s.Bytes }),
			RefBytes:      lo.SumBy(stats, func(s pbf.Stats) int { return s.RefBytes }),
			RefBytesSaved: lo.SumBy(stats, func(s pbf.Stats) int { return s.RefBytesSaved() }),
		},
	}
}

func outputJSON(w io.Writer, r report) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func outputTable(w io.Writer, r report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Block", "Entities", "Groups", "Strings", "Size", "String table", "Ref bytes", "Saved", "Digest"})
	for i, s := range r.Blocks {
		table.Append([]string{
			strconv.Itoa(i),
			strconv.Itoa(s.Entities),
			strconv.Itoa(s.Groups),
			strconv.Itoa(s.Strings),
			humanize.Bytes(uint64(s.Bytes)),
			humanize.Bytes(uint64(s.StringTableBytes)),
			strconv.Itoa(s.RefBytes),
			strconv.Itoa(s.RefBytesSaved()),
			fmt.Sprintf("%016x", s.Digest),
		})
	}
	table.SetFooter([]string{
		strconv.Itoa(r.Total.Blocks),
		strconv.Itoa(r.Total.Entities),
		"",
		strconv.Itoa(r.Total.Strings),
		humanize.Bytes(uint64(r.Total.Bytes)),
		"",
		strconv.Itoa(r.Total.RefBytes),
		strconv.Itoa(r.Total.RefBytesSaved),
		"",
	})
	table.Render()
}
