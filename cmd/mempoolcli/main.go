// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (C) 2015-2017 The Lightning Network Developers

package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/urfave/cli"
)

const defaultRPCHostPort = "localhost:8333"

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[mempoolcli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "mempoolcli"
	app.Usage = "query a running mempool tracker"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: defaultRPCHostPort,
			Usage: "host:port of the mempool tracker's query api",
		},
	}
	app.Commands = []cli.Command{
		countCommand,
		statusCommand,
		spendCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func get(ctx *cli.Context, path string, out interface{}) error {
	url := fmt.Sprintf("http://%s%s", ctx.GlobalString("rpcserver"), path)
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

var countCommand = cli.Command{
	Name:  "count",
	Usage: "print the current live mempool count",
	Action: func(ctx *cli.Context) error {
		var result struct {
			Count int `json:"count"`
		}
		if err := get(ctx, "/count", &result); err != nil {
			return err
		}
		fmt.Println(result.Count)
		return nil
	},
}

var statusCommand = cli.Command{
	Name:      "status",
	Usage:     "look up a transaction's tracked status",
	ArgsUsage: "txid",
	Action: func(ctx *cli.Context) error {
		txid := ctx.Args().First()
		if txid == "" {
			return fmt.Errorf("status requires a txid argument")
		}

		var result struct {
			Txid   string `json:"txid"`
			Status string `json:"status"`
		}
		if err := get(ctx, "/status/"+txid, &result); err != nil {
			return err
		}
		fmt.Println(result.Status)
		return nil
	},
}

var spendCommand = cli.Command{
	Name:      "spend",
	Usage:     "look up which transaction spends an outpoint, if known",
	ArgsUsage: "txid vout",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			return fmt.Errorf("spend requires txid and vout arguments")
		}
		txid, vout := ctx.Args().Get(0), ctx.Args().Get(1)

		var result struct {
			Spender string `json:"spender"`
			Index   uint32 `json:"index"`
		}
		path := fmt.Sprintf("/spend/%s/%s", txid, vout)
		if err := get(ctx, path, &result); err != nil {
			return err
		}
		fmt.Printf("%s:%d\n", result.Spender, result.Index)
		return nil
	},
}
