package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/avapt/assetwatch/pkg/api"
	"github.com/avapt/assetwatch/pkg/config"
	"github.com/avapt/assetwatch/pkg/fingerprint"
	"github.com/avapt/assetwatch/pkg/ingest"
	"github.com/avapt/assetwatch/pkg/store"
)

const (
	appName    = "assetwatch"
	appVersion = "0.3.0"
)

var log = logrus.New()

func main() {
	app := &cli.App{
		Name:    appName,
		Usage:   "Asset visibility prototype for CCTV penetration-testing demos",
		Version: appVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"ASSETWATCH_LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				level = logrus.InfoLevel
			}
			log.SetLevel(level)
			log.SetFormatter(&logrus.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05",
			})
			return nil
		},
		Commands: []*cli.Command{
			commandServe(),
			commandIngest(),
			commandCVE(),
			commandFingerprint(),
			commandPurge(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// connectStore opens the document store with the configured retry policy
// and makes sure the indices exist.
func connectStore(cfg config.Config) (*store.Store, error) {
	st, err := store.Connect(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Warnf("Schema setup skipped: %v", err)
	}
	return st, nil
}

// commandServe returns the API server command configuration.
func commandServe() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the asset search API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (overrides ASSETWATCH_ADDR)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			if addr := c.String("addr"); addr != "" {
				cfg.ListenAddr = addr
			}

			st, err := connectStore(cfg)
			if err != nil {
				return err
			}

			server := api.NewServer(cfg, st, log)
			color.Green("AssetWatch API running at http://localhost%s", cfg.ListenAddr)
			if cfg.LabMode {
				color.Yellow("Lab mode is ENABLED: direct-probe endpoints are unlocked")
			}
			return server.Run()
		},
	}
}

// commandIngest returns the ingestion command configuration.
func commandIngest() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Load device records into the search index",
		Subcommands: []*cli.Command{
			{
				Name:  "sample",
				Usage: "Index the bundled sample device set (safe, offline)",
				Action: func(c *cli.Context) error {
					cfg := config.Load()
					st, err := connectStore(cfg)
					if err != nil {
						return err
					}

					count, err := ingest.Sample(context.Background(), st)
					if err != nil {
						return fmt.Errorf("sample ingest failed: %w", err)
					}
					color.Green("Indexed %d sample devices", count)
					return nil
				},
			},
			{
				Name:      "query",
				Usage:     "Run a read-only Shodan query and index the metadata",
				ArgsUsage: "<shodan query>",
				Action: func(c *cli.Context) error {
					query := c.Args().First()
					if query == "" {
						return fmt.Errorf("no query specified, usage: assetwatch ingest query '<term>'")
					}

					cfg := config.Load()
					if cfg.ShodanAPIKey == "" {
						return fmt.Errorf("SHODAN_API_KEY not set in env, aborting")
					}

					st, err := connectStore(cfg)
					if err != nil {
						return err
					}

					client := ingest.NewShodanClient(cfg.ShodanAPIKey)
					devices, err := client.Search(context.Background(), query)
					if err != nil {
						return fmt.Errorf("shodan query failed: %w", err)
					}

					count, err := st.BulkIndex(context.Background(), devices)
					if err != nil {
						return fmt.Errorf("indexing failed: %w", err)
					}
					color.Green("Indexed %d devices for query %q", count, query)
					return nil
				},
			},
		},
	}
}

// commandCVE returns the CVE map tooling configuration.
func commandCVE() *cli.Command {
	return &cli.Command{
		Name:  "cve",
		Usage: "CVE map tooling",
		Subcommands: []*cli.Command{
			{
				Name:  "load",
				Usage: "Load a local NVD JSON feed into the cve_map index",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to local NVD JSON file",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					cfg := config.Load()
					st, err := connectStore(cfg)
					if err != nil {
						return err
					}

					count, err := ingest.LoadNVDFile(context.Background(), st, c.String("file"))
					if err != nil {
						return fmt.Errorf("cve load failed: %w", err)
					}
					color.Green("Indexed %d cpe->CVE entries into %s", count, store.CVEIndex)
					return nil
				},
			},
		},
	}
}

// commandFingerprint returns the lab-only prober configuration.
func commandFingerprint() *cli.Command {
	return &cli.Command{
		Name:  "fingerprint",
		Usage: "Lab-only one-shot fingerprint probe (refuses without --lab)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "target",
				Aliases:  []string{"t"},
				Usage:    "IP of the lab device",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "lab",
				Usage: "Confirm the target is a consented lab device",
			},
			&cli.BoolFlag{
				Name:  "index",
				Usage: "Also index the result as a lab-flagged device document",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("lab") {
				color.Red("Refusing to run. This command is lab-only. Use --lab to confirm.")
				return cli.Exit("", 1)
			}

			target := c.String("target")
			prober := fingerprint.NewProber(true, log)

			result, err := prober.Probe(context.Background(), target)
			if err != nil {
				return err
			}

			path, err := result.Save(".")
			if err != nil {
				return fmt.Errorf("save fingerprint: %w", err)
			}
			color.Green("Saved fingerprint to %s", path)

			if c.Bool("index") {
				cfg := config.Load()
				st, err := connectStore(cfg)
				if err != nil {
					return err
				}
				if err := st.IndexDevice(context.Background(), result.Device()); err != nil {
					return fmt.Errorf("index fingerprint: %w", err)
				}
				color.Green("Indexed lab device %s", target)
			}
			return nil
		},
	}
}

// commandPurge returns the index cleanup configuration.
func commandPurge() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete the devices index (testing/cleanup only)",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Confirm deletion",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				color.Yellow("This deletes every indexed device. Re-run with --yes to confirm.")
				return nil
			}

			cfg := config.Load()
			st, err := store.Connect(cfg, log)
			if err != nil {
				return err
			}

			if err := st.DeleteAll(context.Background()); err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			color.Green("Deleted index %s", store.DeviceIndex)
			return nil
		},
	}
}
