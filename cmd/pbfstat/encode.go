package main

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v3"

	pbfcontext "github.com/grafana/osmpbf/pkg/context"
	"github.com/grafana/osmpbf/pkg/osm"
	"github.com/grafana/osmpbf/pkg/pbf"
)

type encodeParams struct {
	input               string
	configFile          string
	output              string
	maxEntitiesPerBlock int
	concurrency         int
}

func addEncodeParams(cmd *kingpin.CmdClause, p *encodeParams) {
	cmd.Arg("input", "File with one JSON entity per line, - reads stdin.").Required().StringVar(&p.input)
	cmd.Flag("config.file", "YAML file with the encoder configuration.").StringVar(&p.configFile)
	cmd.Flag("output", "Output format: table or json.").Default("table").EnumVar(&p.output, "table", "json")
	cmd.Flag("max-entities-per-block", "Overrides the configured number of entities per block.").IntVar(&p.maxEntitiesPerBlock)
	cmd.Flag("concurrency", "Overrides the configured number of blocks encoded in parallel.").IntVar(&p.concurrency)
}

// fileConfig is the layout of --config.file.
type fileConfig struct {
	PBF pbf.Config `yaml:"pbf"`
}

// loadConfig returns the defaults overridden by the config file, if any.
func loadConfig(path string) (pbf.Config, error) {
	fc := fileConfig{PBF: pbf.DefaultConfig()}
	if path == "" {
		return fc.PBF, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return fc.PBF, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err = dec.Decode(&fc); err != nil && err != io.EOF {
		return fc.PBF, errors.Wrapf(err, "parse %s", path)
	}
	return fc.PBF, nil
}

func encode(ctx context.Context, params *encodeParams) error {
	logger := pbfcontext.Logger(ctx)
	cfg, err := loadConfig(params.configFile)
	if err != nil {
		return err
	}
	if params.maxEntitiesPerBlock > 0 {
		cfg.MaxEntitiesPerBlock = params.maxEntitiesPerBlock
	}
	if params.concurrency > 0 {
		cfg.Concurrency = params.concurrency
	}

	entities, err := readEntities(params.input)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "entities read", "input", params.input, "entities", len(entities))

	encoder, err := pbf.NewEncoder(cfg, logger, pbf.NewMetrics(pbfcontext.Registry(ctx)))
	if err != nil {
		return err
	}
	blocks, err := encoder.EncodeAll(ctx, entities)
	if err != nil {
		return err
	}

	r := newReport(blocks)
	level.Info(logger).Log("msg", "entities encoded", "blocks", len(r.Blocks), "bytes", r.Total.Bytes, "ref_bytes_saved", r.Total.RefBytesSaved)
	switch params.output {
	case "json":
		return outputJSON(pbfcontext.Output(ctx), r)
	default:
		outputTable(pbfcontext.Output(ctx), r)
		return nil
	}
}

func readEntities(path string) ([]osm.Entity, error) {
	if path == "-" {
		return osm.ReadAll(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entities, err := osm.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return entities, nil
}
