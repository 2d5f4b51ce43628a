// Command paysplit runs a proportional pull-payment pool: a fixed set of
// beneficiaries each withdraw their share of everything the pool address
// has ever received.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/urfave/cli.v1"
)

// Version is set at build time.
var Version = "dev"

var (
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "data directory (default ~/.paysplit)",
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "configuration file (default {datadir}/config)",
	}
	rpcURLFlag = cli.StringFlag{
		Name:  "rpc-url",
		Usage: "node JSON-RPC URL",
	}
	rpcUserFlag = cli.StringFlag{
		Name:  "rpc-user",
		Usage: "node JSON-RPC user",
	}
	rpcPassFlag = cli.StringFlag{
		Name:  "rpc-pass",
		Usage: "node JSON-RPC password",
	}
)

func newApp(s *session) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Version = Version
	app.Usage = "proportional revenue-share payout pool"
	app.Flags = []cli.Flag{dataDirFlag, configFlag, rpcURLFlag, rpcUserFlag, rpcPassFlag}
	app.Commands = []cli.Command{
		s.initCommand(),
		s.walletNewCommand(),
		s.poolCommand(),
		s.statusCommand(),
		s.depositCommand(),
		s.releaseCommand(),
		s.settleCommand(),
		s.eventsCommand(),
		s.txStatusCommand(),
	}
	app.Before = s.before
	app.After = s.after
	return app
}

func main() {
	s := &session{getenv: os.Getenv}
	if err := newApp(s).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
