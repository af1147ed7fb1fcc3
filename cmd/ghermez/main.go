package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/ahmed-tasaly/ghermez/internal/config"
	"github.com/ahmed-tasaly/ghermez/internal/daemon"
	"github.com/ahmed-tasaly/ghermez/internal/engine"
	"github.com/ahmed-tasaly/ghermez/internal/store"
	"github.com/ahmed-tasaly/ghermez/pkg/logger"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := Execute(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ghermez:", err)
		os.Exit(1)
	}
}

func Execute(args []string) error {
	app := cli.App{
		Name:      "Ghermez",
		HelpName:  "ghermez",
		Usage:     "download manager core",
		Version:   version,
		UsageText: "ghermez <command> [arguments...]",
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "start the engine and the scheduling core",
				Action: run,
				Flags: []cli.Flag{
					cli.IntFlag{
						Name:  "port, p",
						Usage: "engine RPC port (overrides settings)",
					},
					cli.StringFlag{
						Name:  "config-dir, c",
						Usage: "configuration directory",
					},
				},
			},
			{
				Name:   "reset",
				Usage:  "delete all downloads and user categories",
				Action: reset,
				Flags: []cli.Flag{
					cli.StringFlag{
						Name:  "config-dir, c",
						Usage: "configuration directory",
					},
				},
			},
		},
	}
	return app.Run(args)
}

func configDir(ctx *cli.Context) (string, error) {
	if dir := ctx.String("config-dir"); dir != "" {
		return dir, nil
	}
	dir, err := config.DefaultDir()
	if err != nil {
		return "", err
	}
	return dir, nil
}

func run(ctx *cli.Context) error {
	dir, err := configDir(ctx)
	if err != nil {
		return err
	}
	cfg, err := config.Load(afero.NewOsFs(), filepath.Join(dir, "settings.json"))
	if err != nil {
		return err
	}
	port := cfg.Int(config.KeyRPCPort, 6801)
	if p := ctx.Int("port"); p != 0 {
		port = p
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	fileLog, err := logger.NewFileLogger(filepath.Join(dir, "ghermez.log"))
	if err != nil {
		return err
	}
	lg := logger.NewMultiLogger(
		logger.NewStandardLogger(log.Default()),
		fileLog,
	)
	defer lg.Close()

	st, err := store.Open(filepath.Join(dir, "ghermez.db"), lg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.CorrectUnits(); err != nil {
		return err
	}
	if err := st.SetTablesToDefault(); err != nil {
		return err
	}

	sess, err := store.OpenSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	plugins, err := store.OpenPlugins(filepath.Join(dir, "plugins.db"))
	if err != nil {
		return err
	}
	defer plugins.Close()

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, engineVersion, err := engine.Start(runCtx, engine.StartOptions{
		Port:      port,
		Aria2Path: cfg.Get(config.KeyAria2Path),
		Log:       lg,
	})
	if err != nil {
		return err
	}
	defer eng.Close()
	lg.Info("engine version %s on port %d", engineVersion, port)

	d := daemon.New(daemon.Options{
		Config:  cfg,
		Store:   st,
		Session: sess,
		Plugins: plugins,
		Engine:  eng,
		Log:     lg,
	})
	err = d.Run(runCtx)

	if shutdownErr := d.Shutdown(shutdownTimeout); shutdownErr != nil {
		lg.Warning("engine shutdown: %v", shutdownErr)
	}
	return err
}

func reset(ctx *cli.Context) error {
	dir, err := configDir(ctx)
	if err != nil {
		return err
	}
	lg := logger.NewStandardLogger(log.Default())
	st, err := store.Open(filepath.Join(dir, "ghermez.db"), lg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Reset(); err != nil {
		return err
	}
	lg.Info("download database reset")
	return nil
}
