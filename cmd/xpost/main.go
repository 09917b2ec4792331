package main

import (
	"context"
	"fmt"
	"io"
	"os"

	cli "github.com/urfave/cli/v2"

	"github.com/dgellow/xpost/internal"
	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/log"
)

var BuildVersion = "dev"

func main() {
	if err := run(os.Args); err != nil {
		log.LogError("exiting: %v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "xpost",
		Usage:   "compose and publish posts and threads to X",
		Version: BuildVersion,
	}

	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "dotenv files to load before reading the environment; missing files are skipped",
			Value: cli.NewStringSlice(".env"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "error, warn, info, debug or trace",
			EnvVars: []string{"LOG_LEVEL"},
		},
	}
	app.Before = func(cctx *cli.Context) error {
		if lvl := cctx.String("log-level"); lvl != "" {
			return log.SetLogLevel(lvl)
		}
		return nil
	}

	app.Commands = []*cli.Command{
		serveCmd,
		validateCmd,
		versionCmd,
	}

	return app.Run(args)
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "address to listen on, overrides ADDR",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := config.Load(cctx.StringSlice("env-file")...)
		if err != nil {
			return err
		}
		if cctx.IsSet("addr") {
			cfg.Addr = cctx.String("addr")
		}

		app, err := internal.NewXPost(cfg)
		if err != nil {
			return fmt.Errorf("failed to build application: %w", err)
		}
		return app.Run(context.Background())
	},
}

var validateCmd = &cli.Command{
	Name:  "validate",
	Usage: "check the configuration and report problems",
	Action: func(cctx *cli.Context) error {
		return validate(cctx.App.Writer, cctx.StringSlice("env-file"))
	},
}

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "print the version",
	Action: func(cctx *cli.Context) error {
		_, err := fmt.Fprintln(cctx.App.Writer, BuildVersion)
		return err
	},
}

// validate prints the validation report. Only variable names and problems
// are shown, never values.
func validate(w io.Writer, envFiles []string) error {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return err
	}
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		return err
	}
	result := config.Validate(cfg)

	fmt.Fprintf(w, "Auth flow: %s\n", cfg.X.Flow)
	fmt.Fprintf(w, "Callback URL: %s\n", cfg.CallbackURL())
	fmt.Fprintf(w, "X credentials: %s\n", presence(cfg.X.HasCredentials()))
	fmt.Fprintf(w, "Session secret: %s\n", presence(cfg.Session.Secret != ""))
	fmt.Fprintf(w, "AI generation: %s\n", presence(cfg.Compose.Enabled()))

	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
	}

	fmt.Fprintln(w)
	switch {
	case len(result.Errors) > 0:
		fmt.Fprintln(w, "Result: FAIL")
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	case len(result.Warnings) > 0:
		fmt.Fprintln(w, "Result: PASS (with warnings)")
	default:
		fmt.Fprintln(w, "Result: PASS")
	}
	return nil
}

func presence(ok bool) string {
	if ok {
		return "set"
	}
	return "missing"
}
