// Command httreectl is a small inspection CLI for history tree files: it
// opens a finalized tree and prints its start and end times, or runs a
// single query against it. Every storage-engine repo in this corpus ships at least one
// CLI entry point alongside its library; this is that entry point here.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/datatrails/go-histtree/historytree"
	"github.com/datatrails/go-histtree/htvalue"
)

func main() {
	app := &cli.App{
		Name:  "httreectl",
		Usage: "inspect and query history tree files",
		Commands: []*cli.Command{
			headerCommand(),
			queryCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func headerCommand() *cli.Command {
	return &cli.Command{
		Name:      "header",
		Usage:     "print a tree file's start and end times",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("header: missing <path>", 1)
			}
			t, err := historytree.Open(path, historytree.Config{})
			if err != nil {
				return err
			}
			defer t.Dispose()
			fmt.Printf("start=%d end=%d\n", t.GetStartTime(), t.GetEndTime())
			return nil
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "query a single quark at a timestamp",
		ArgsUsage: "<path> <timestamp> <quark>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 3 {
				return cli.Exit("query: expected <path> <timestamp> <quark>", 1)
			}
			path := c.Args().Get(0)
			var tm int64
			var quark int
			if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &tm); err != nil {
				return cli.Exit("query: bad timestamp", 1)
			}
			if _, err := fmt.Sscanf(c.Args().Get(2), "%d", &quark); err != nil {
				return cli.Exit("query: bad quark", 1)
			}

			t, err := historytree.Open(path, historytree.Config{})
			if err != nil {
				return err
			}
			defer t.Dispose()

			value, ok, err := t.DoSingularQuery(tm, quark)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("not found")
				return nil
			}
			printValue(value)
			return nil
		},
	}
}

func printValue(v htvalue.Value) {
	fmt.Printf("%s: %s\n", v.Kind(), v.String())
}
