package main

import (
	"github.com/alecthomas/kong"
	"github.com/block/shardmove/pkg/buildinfo"
	"github.com/block/shardmove/pkg/job"
)

var cli struct {
	Run     job.Job          `cmd:"" help:"Move unsharded tables into their sharded equivalents."`
	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("shardmove"),
		kong.Description("Shardmove: chunked row migration from unsharded to sharded tables"),
		kong.UsageOnError(),
		kong.Vars{"version": buildinfo.Version()},
	)
	cli.Run.Plans = defaultCatalog()
	ctx.FatalIfErrorf(ctx.Run())
}
