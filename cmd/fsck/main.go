package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/weberc2/snapfs/pkg/disk"
	"github.com/weberc2/snapfs/pkg/fs"
)

const (
	exitOK        = 0
	exitUsage     = 1
	exitBadImage  = 2
	exitCorrupted = 3
)

func main() {
	app := cli.App{
		Name:      "fsck",
		Usage:     "validate (and optionally repair) a snapfs image",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fix",
				Usage: "repair counters and reclaim orphans",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log per-stage progress",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				cli.ShowAppHelp(ctx)
				os.Exit(exitUsage)
			}
			path := ctx.Args().First()

			if ctx.Bool("verbose") {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}

			slog.Debug("validating superblock", "image", path)
			if !disk.Check(path) {
				fmt.Fprintf(os.Stderr, "%s: bad magic or version\n", path)
				os.Exit(exitBadImage)
			}

			filesystem := fs.New()
			if err := filesystem.Mount(path, fs.Config{EnableCache: false}); err != nil {
				fmt.Fprintf(os.Stderr, "%s: mount failed: %v\n", path, err)
				os.Exit(exitBadImage)
			}
			defer filesystem.Unmount()

			slog.Debug("checking counters and reachability", "fix", ctx.Bool("fix"))
			if err := filesystem.CheckConsistency(ctx.Bool("fix")); err != nil {
				fmt.Fprintf(os.Stderr, "%s: inconsistent: %v\n", path, err)
				os.Exit(exitCorrupted)
			}

			info := filesystem.Info()
			fmt.Printf(
				"%s: clean (%d/%d inodes used, %d/%d data blocks used, "+
					"%d snapshots)\n",
				path,
				info.UsedInodes,
				info.TotalInodes,
				info.UsedBlocks,
				info.TotalBlocks,
				info.SnapshotCount,
			)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
