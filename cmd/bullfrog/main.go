package main

import (
	"github.com/DSLAM-UMD/BullFrog/pkg/migration"
	"github.com/alecthomas/kong"
)

var cli struct {
	Background migration.Background `cmd:"" help:"Run background range migration workers over the customer table."`
	Call       migration.Call       `cmd:"" help:"Invoke a registered procedure by name."`
	Rebuild    migration.Rebuild    `cmd:"" help:"Rebuild the bitmap directory from the projection tables."`
}

func main() {
	ctx := kong.Parse(&cli)
	ctx.FatalIfErrorf(ctx.Run())
}
