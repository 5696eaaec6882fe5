package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/internal/app"
	"checkout-service/internal/config"
	"checkout-service/internal/services"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

var flagconf string

func init() {
	flag.StringVar(&flagconf, "conf", "", "config path, eg: -conf configs/config.yaml")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(flagconf)
	if err != nil {
		stdlog.Fatalf("config: %v", err)
	}

	logger := app.NewLogger(cfg.Log, "checkout-cron")
	a, cleanup, err := app.New(cfg, logger)
	if err != nil {
		stdlog.Fatalf("startup: %v", err)
	}
	defer cleanup()
	helper := log.NewHelper(logger)

	// every replica schedules the sweep; the redis lock lets one of them run it
	scheduler := cron.New(cron.WithSeconds())
	_, err = scheduler.AddFunc(cfg.Cron.SweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Cron.SweepTimeout.Duration)
		defer cancel()

		start := time.Now()
		res, err := a.Sweeper.Run(ctx)
		switch {
		case errors.Is(err, services.ErrSweepBusy):
			return
		case err != nil:
			helper.Errorf("[CRON] sweep failed: %v", err)
			return
		}
		helper.Debugf("[CRON] sweep done in %s: orders=%d lapsed_buyers=%d invalidated=%d",
			time.Since(start), res.ExpiredOrders, res.LapsedBuyers, len(res.InvalidatedBuyers))
	})
	if err != nil {
		stdlog.Fatalf("add sweep job %q: %v", cfg.Cron.SweepSpec, err)
	}

	scheduler.Start()
	helper.Infof("[CRON] sweep scheduled: %s", cfg.Cron.SweepSpec)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	helper.Info("shutting down gracefully")
	stopped := scheduler.Stop()
	select {
	case <-stopped.Done():
		helper.Info("all cron jobs stopped")
	case <-time.After(cfg.Cron.SweepTimeout.Duration):
		helper.Warn("timed out waiting for the running sweep")
	}
}
