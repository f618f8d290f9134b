// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "server",
		Usage: "Base URL of the running daemon (default from config)",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

// setupCommand handles configuration and database initialization.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config file, initialize database, and run migrations",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// serveCommand runs the download daemon.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the download daemon: workers, import watcher, and HTTP API",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Serve,
	}
}

// searchCommand queries the configured catalog services.
func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search a catalog service for tracks",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags: []cli.Flag{
			serverFlag(),
			jsonFlag(),
			&cli.StringFlag{
				Name:  "service",
				Usage: "Catalog to search (spotify or youtube)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: 10,
			},
		},
		Action: r.Search,
	}
}

// downloadCommand queues a single-track download.
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "Queue a track download by URL, video ID, or search query",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "ref"},
		},
		Flags: []cli.Flag{
			serverFlag(),
			jsonFlag(),
			&cli.StringFlag{
				Name:  "quality",
				Usage: "Audio quality override (e.g. 320K)",
			},
			&cli.StringFlag{
				Name:  "artist",
				Usage: "Artist metadata hint",
			},
			&cli.StringFlag{
				Name:  "album",
				Usage: "Album metadata hint",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Title metadata hint",
			},
		},
		Action: r.Download,
	}
}

// syncCommand queues playlist and liked-library syncs.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync a playlist or liked library into the download queue",
		Commands: []*cli.Command{
			{
				Name:  "playlist",
				Usage: "Download every track of a playlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "ref"},
				},
				Flags: []cli.Flag{
					serverFlag(),
					jsonFlag(),
					&cli.StringFlag{
						Name:  "service",
						Usage: "Catalog service (spotify or youtube)",
					},
					&cli.StringFlag{
						Name:  "quality",
						Usage: "Audio quality override",
					},
				},
				Action: r.SyncPlaylist,
			},
			{
				Name:  "liked",
				Usage: "Download the user's liked/saved tracks",
				Flags: []cli.Flag{
					serverFlag(),
					jsonFlag(),
					&cli.StringFlag{
						Name:  "service",
						Usage: "Catalog service (spotify or youtube)",
					},
					&cli.StringFlag{
						Name:  "quality",
						Usage: "Audio quality override",
					},
				},
				Action: r.SyncLiked,
			},
		},
	}
}

// jobsCommand inspects and controls queued work.
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "jobs",
		Usage:  "Inspect and control download jobs",
		Flags:  []cli.Flag{serverFlag(), jsonFlag()},
		Action: r.Jobs,
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show one job by ID",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{serverFlag(), jsonFlag()},
				Action: r.JobShow,
			},
			{
				Name:  "cancel",
				Usage: "Cancel a queued or running job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{serverFlag()},
				Action: r.JobCancel,
			},
			{
				Name:  "retry",
				Usage: "Requeue a failed job as a fresh job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{serverFlag(), jsonFlag()},
				Action: r.JobRetry,
			},
			{
				Name:    "watch",
				Aliases: []string{"monitor"},
				Usage:   "Live queue monitor",
				Flags:   []cli.Flag{serverFlag()},
				Action:  r.JobsWatch,
			},
		},
	}
}

// historyCommand lists the job event trail.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent job events",
		Flags: []cli.Flag{
			serverFlag(),
			jsonFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of events",
				Value: 50,
			},
		},
		Action: r.History,
	}
}

// statsCommand prints aggregate download counters.
func statsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show download statistics",
		Flags:  []cli.Flag{serverFlag(), jsonFlag()},
		Action: r.Stats,
	}
}

// importCommand stages local files for the import watcher.
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Copy a local audio file or directory into the import staging directory",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path"},
		},
		Flags:  []cli.Flag{configFlag()},
		Action: r.Import,
	}
}

// scanCommand triggers an immediate streaming-server rescan.
func scanCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "scan",
		Usage:  "Trigger an immediate Navidrome library rescan",
		Flags:  []cli.Flag{serverFlag()},
		Action: r.Scan,
	}
}
