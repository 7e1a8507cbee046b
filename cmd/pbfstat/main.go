package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"

	pbfcontext "github.com/grafana/osmpbf/pkg/context"
)

var cfg struct {
	verbose bool
	encode  encodeParams
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Encode OpenStreetMap entities into PBF blocks and report on their string tables.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)

	encodeCmd := app.Command("encode", "Encode newline delimited JSON entities into blocks and print per block statistics.")
	addEncodeParams(encodeCmd, &cfg.encode)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	ctx := pbfcontext.WithLogger(context.Background(), logger)
	ctx = pbfcontext.WithOutput(ctx, os.Stdout)

	switch parsedCmd {
	case encodeCmd.FullCommand():
		os.Exit(checkError(encode(ctx, &cfg.encode)))
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
