package cmdline

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"imgsync/impl/config"

	"github.com/urfave/cli/v3"
)

// fromCmdline will be populated with flags indicating which configuration settings were
// specified on the command line.
var fromCmdline config.FromCmdLine

// cfg has the parsed configuration - including defaults (e.g. port) if the user does not override
var cfg = config.Configuration{}

// modeFlag is shared by the sync and serve sub-commands
func modeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "mode",
		Value:       "buffer",
		Usage:       "Blob transfer mode: 'buffer' (streamed) or 'tarball' (staged in temp files)",
		Destination: &cfg.Mode,
		Validator: func(mode string) error {
			validValues := []string{"buffer", "tarball"}
			if !slices.Contains(validValues, strings.ToLower(mode)) {
				return fmt.Errorf("must be one of %s", strings.Join(validValues, ", "))
			}
			return nil
		},
		Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
			fromCmdline.Mode = true
			return nil
		},
	}
}

// maxBlobSizeFlag is shared by the sync and serve sub-commands
func maxBlobSizeFlag() cli.Flag {
	return &cli.IntFlag{
		Name:        "max-blob-size",
		Value:       0,
		Usage:       "Fails a sync whose image has any blob larger than this many bytes (0 = unlimited)",
		Destination: &cfg.MaxBlobSize,
		Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
			fromCmdline.MaxBlobSize = true
			return nil
		},
	}
}

// tempDirFlag is shared by the sync and serve sub-commands
func tempDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "temp-dir",
		Usage:       "The directory for tarball-mode blob staging (defaults to the OS temp dir)",
		Destination: &cfg.TempDir,
		Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
			fromCmdline.TempDir = true
			return nil
		},
	}
}

// cmds is for the command line parser urfave/cli
var cmds = &cli.Command{
	Name:  "imgsync",
	Usage: "a registry-to-registry container image replicator",
	// define this or the parser terminates the program
	ExitErrHandler: func(_ context.Context, _ *cli.Command, _ error) {},
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Value:       "error",
			Usage:       "Sets the minimum value for logging: debug, warn, info, or error",
			Destination: &cfg.LogLevel,
			Validator: func(lvl string) error {
				validValues := []string{"debug", "warn", "info", "error"}
				if !slices.Contains(validValues, strings.ToLower(lvl)) {
					return fmt.Errorf("must be one of %s", strings.Join(validValues, ", "))
				}
				return nil
			},
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.LogLevel = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "log-file",
			Value:       "",
			Usage:       "log to the specified file rather than the console",
			Destination: &cfg.LogFile,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.LogFile = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "config-file",
			Usage:       "A file to load configuration values from (cmdline overrides file settings)",
			Destination: &cfg.ConfigFile,
			Validator: func(path string) error {
				if fi, err := os.Stat(path); err != nil {
					return fmt.Errorf("file not found")
				} else if fi.IsDir() {
					return fmt.Errorf("not a file")
				}
				return nil
			},
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.ConfigFile = true
				return nil
			},
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "sync",
			Usage:     "Replicates an image from a source registry to a destination registry",
			ArgsUsage: "SOURCE DESTINATION",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "sync"
				fromCmdline.Args = cmd.Args().Slice()
				return nil
			},
			Flags: []cli.Flag{
				modeFlag(),
				maxBlobSizeFlag(),
				tempDirFlag(),
				&cli.StringFlag{
					Name:        "image-file",
					Usage:       "Replicates images from a file of 'source destination' lines instead of the command line",
					Destination: &cfg.ImageFile,
					Validator: func(path string) error {
						if fi, err := os.Stat(path); err != nil {
							return fmt.Errorf("file not found")
						} else if fi.IsDir() {
							return fmt.Errorf("not a file")
						}
						return nil
					},
					Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
						fromCmdline.ImageFile = true
						return nil
					},
				},
			},
		},
		{
			Name:      "save",
			Usage:     "Pulls an image and writes it to local disk",
			ArgsUsage: "SOURCE PATH",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "save"
				fromCmdline.Args = cmd.Args().Slice()
				return nil
			},
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "format",
					Value: "oci",
					Usage: "Output format: 'oci' (image layout directory) or 'tarball' (legacy docker-save archive)",
					Validator: func(format string) error {
						validValues := []string{"oci", "tarball"}
						if !slices.Contains(validValues, strings.ToLower(format)) {
							return fmt.Errorf("must be one of %s", strings.Join(validValues, ", "))
						}
						return nil
					},
					Action: func(ctx context.Context, cmd *cli.Command, format string) error {
						fromCmdline.Format = format
						return nil
					},
				},
			},
		},
		{
			Name:  "serve",
			Usage: "Runs the replication REST API server",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "serve"
				return nil
			},
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:        "port",
					Value:       8080,
					Usage:       "The port to serve the REST API on",
					Destination: &cfg.Port,
					Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
						fromCmdline.Port = true
						return nil
					},
				},
				&cli.IntFlag{
					Name:        "metrics-port",
					Value:       0,
					Usage:       "Serves prometheus metrics on a separate port (0 = on the API port)",
					Destination: &cfg.MetricsPort,
					Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
						fromCmdline.MetricsPort = true
						return nil
					},
				},
				modeFlag(),
				maxBlobSizeFlag(),
				tempDirFlag(),
			},
		},
		{
			Name:  "version",
			Usage: "Displays the version",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "version"
				return nil
			},
		},
	},
}

// Parse parses the command line. It returns the following:
//
//  1. A FromCmdLine struct which has the command to run ("sync", "serve", etc.). If the command
//     is the empty string then no sub-command was specified in which case the parser auto-displays
//     help. This struct also has flags telling you which configuration values were provided by the
//     user on the command line, and any positional args of the sub-command.
//  2. A Configuration struct containing the parsed configuration values. For any configuration flag
//     in the FromCmdLine struct with a false value, the corresponding configuration value in *this*
//     struct will be the default.
//  3. An error, if the parser returned one, else nil.
func Parse() (config.FromCmdLine, config.Configuration, error) {
	if err := cmds.Run(context.Background(), os.Args); err != nil {
		return config.FromCmdLine{}, config.Configuration{}, err
	}
	return fromCmdline, cfg, nil
}

// ClearParse supports unit testing
func ClearParse() {
	fromCmdline = config.FromCmdLine{}
	cfg = config.Configuration{}
}
