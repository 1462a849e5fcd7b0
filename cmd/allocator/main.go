package main

import (
	"fmt"
	"os"
	"time"

	"github.com/axiomesh/allocator"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "Allocator"
	app.Usage = "Milestone based fund release governed by a committee"
	app.Compiled = time.Now()

	cli.VersionPrinter = func(c *cli.Context) {
		printVersion()
	}

	// global flags
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "repo",
			Usage: "Allocator storage repo path",
		},
	}

	app.Commands = append([]*cli.Command{
		configCMD,
		{
			Name:    "version",
			Aliases: []string{"v"},
			Usage:   "Allocator version",
			Action: func(ctx *cli.Context) error {
				printVersion()
				return nil
			},
		},
	}, strategyCMDs...)

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("Allocator version: %s-%s-%s\n", allocator.CurrentVersion, allocator.CurrentBranch, allocator.CurrentCommit)
	fmt.Printf("App build date: %s\n", allocator.BuildDate)
	fmt.Printf("System version: %s\n", allocator.Platform)
	fmt.Printf("Golang version: %s\n", allocator.GoVersion)
	fmt.Println()
}
