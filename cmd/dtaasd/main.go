// Command dtaasd runs the DTaaS transfer engine: it loads tasks from the
// control-plane store and drives each one through the Lifecycle Controller
// (C7), exactly as the teacher's cmd/lint wraps a single subcommand struct
// in kong.Parse/ctx.FatalIfErrorf.
package main

import (
	"github.com/alecthomas/kong"
)

var cli struct {
	Run Run `cmd:"" help:"Start dtaasd and run every task the store names."`
}

func main() {
	ctx := kong.Parse(&cli)
	ctx.FatalIfErrorf(ctx.Run())
}
