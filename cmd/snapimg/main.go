package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/urfave/cli/v2"

	"github.com/weberc2/snapfs/pkg/disk"
	"github.com/weberc2/snapfs/pkg/imagestore"
)

func main() {
	app := cli.App{
		Name:  "snapimg",
		Usage: "push/pull snapfs images to an object store",
		Commands: []*cli.Command{{
			Name:      "push",
			Usage:     "upload an image under a name",
			ArgsUsage: "IMAGE NAME",
			Action: withStore(func(store *imagestore.Store, ctx *cli.Context) error {
				if ctx.NArg() != 2 {
					return fmt.Errorf("expected IMAGE and NAME arguments")
				}
				imagePath := ctx.Args().Get(0)
				name := ctx.Args().Get(1)

				if !disk.Check(imagePath) {
					return fmt.Errorf(
						"`%s` is not a valid filesystem image",
						imagePath,
					)
				}

				key, err := store.Push(imagePath, name)
				if err != nil {
					return err
				}
				slog.Info("pushed", "image", imagePath, "key", key)
				fmt.Println(key)
				return nil
			}),
		}, {
			Name:      "pull",
			Usage:     "download an image by key",
			ArgsUsage: "KEY IMAGE",
			Action: withStore(func(store *imagestore.Store, ctx *cli.Context) error {
				if ctx.NArg() != 2 {
					return fmt.Errorf("expected KEY and IMAGE arguments")
				}
				key := ctx.Args().Get(0)
				imagePath := ctx.Args().Get(1)

				if err := store.Pull(key, imagePath); err != nil {
					return err
				}

				if !disk.Check(imagePath) {
					return fmt.Errorf(
						"pulled object `%s` is not a valid filesystem image",
						key,
					)
				}
				slog.Info("pulled", "key", key, "image", imagePath)
				return nil
			}),
		}, {
			Name:      "list",
			Usage:     "list stored image keys, optionally for one name",
			ArgsUsage: "[NAME]",
			Action: withStore(func(store *imagestore.Store, ctx *cli.Context) error {
				keys, err := store.List(ctx.Args().First())
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Println(key)
				}
				return nil
			}),
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withStore(
	fn func(*imagestore.Store, *cli.Context) error,
) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		config, err := LoadConfig()
		if err != nil {
			return err
		}
		if err := config.Validate(); err != nil {
			return err
		}

		awsConfig := aws.Config{}
		if config.Region != "" {
			awsConfig.Region = &config.Region
		}
		sess, err := session.NewSession(&awsConfig)
		if err != nil {
			return fmt.Errorf("creating AWS session: %w", err)
		}

		var objects imagestore.ObjectStore = &imagestore.S3ObjectStore{
			Client: s3.New(sess),
		}
		if config.Compress {
			objects = &imagestore.GzipObjectStore{ObjectStore: objects}
		}

		return fn(&imagestore.Store{
			Objects: objects,
			Bucket:  config.Bucket,
			Prefix:  config.Prefix,
		}, ctx)
	}
}
