package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/weberc2/snapfs/pkg/disk"
	"github.com/weberc2/snapfs/pkg/types"
)

func main() {
	app := cli.App{
		Name:      "mkfs",
		Usage:     "format a new snapfs image",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "blocks",
				Usage: "total blocks in the image",
				Value: uint(types.DefaultTotalBlocks),
			},
			&cli.UintFlag{
				Name:  "inodes",
				Usage: "total inodes in the image",
				Value: uint(types.DefaultTotalInodes),
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite an existing image",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "print the computed layout",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("expected exactly one IMAGE argument")
			}
			path := ctx.Args().First()

			report, err := disk.Mkfs(path, disk.MkfsOptions{
				TotalBlocks: uint32(ctx.Uint("blocks")),
				TotalInodes: uint32(ctx.Uint("inodes")),
				Force:       ctx.Bool("force"),
			})
			if err != nil {
				return err
			}

			if ctx.Bool("verbose") {
				slog.Info("layout",
					"superblock", 0,
					"inodeBitmapStart", report.InodeBitmapStart,
					"inodeBitmapBlocks", report.InodeBitmapBlocks,
					"blockBitmapStart", report.BlockBitmapStart,
					"blockBitmapBlocks", report.BlockBitmapBlocks,
					"inodeTableStart", report.InodeTableStart,
					"dataBlockStart", report.DataBlockStart,
					"dataBlockCount", report.DataBlockCount,
				)
			}

			fmt.Printf(
				"%s: %d blocks, %d inodes (%d data blocks free, %d inodes free)\n",
				path,
				report.TotalBlocks,
				report.TotalInodes,
				report.FreeBlocks,
				report.FreeInodes,
			)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
