package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"digestbot/internal/app"
	"digestbot/internal/config"
	"digestbot/pkg/logx"
)

func main() {
	var (
		cfgPath string
		daemon  bool
	)
	flag.StringVar(&cfgPath, "config", "./digestbot.yaml", "path to config yaml/json")
	flag.BoolVar(&daemon, "daemon", false, "run on the configured schedule instead of once")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	boot := logx.NewConsole("info")
	mgr := config.NewManager(cfgPath, boot)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	logsvc, log := logx.New(app.LogxConfig(cfg.Log))
	defer logsvc.Close()

	if daemon {
		d := app.NewDaemon(mgr, logsvc, log)
		if err := d.Run(ctx); err != nil {
			log.Error("daemon stopped", logx.Err(err))
			os.Exit(1)
		}
		return
	}

	a, err := app.New(cfg, log)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.RunOnce(ctx); err != nil {
		log.Error("run failed", logx.Err(err))
		// Best-effort: surface the failure on the delivery channel too.
		a.NotifyError(context.WithoutCancel(ctx), err)
		os.Exit(1)
	}
}
