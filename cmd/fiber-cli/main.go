package main

import (
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "fiber-cli"
	app.Version = "0.1.0"
	app.Usage = "control plane for a fibernode payment channel daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:8227",
			Usage: "host:port of the fibernode JSON-RPC server",
		},
	}
	app.Commands = []cli.Command{
		openChannelCommand,
		listChannelsCommand,
		sendPaymentCommand,
		getPaymentCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
