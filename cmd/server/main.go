package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"net/http"
	"os/signal"
	"syscall"

	"checkout-service/internal/app"
	"checkout-service/internal/config"
	controller "checkout-service/internal/controllers/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
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

	logger := app.NewLogger(cfg.Log, "checkout-service")
	a, cleanup, err := app.New(cfg, logger)
	if err != nil {
		stdlog.Fatalf("startup: %v", err)
	}
	defer cleanup()
	helper := log.NewHelper(logger)

	gin.SetMode(gin.ReleaseMode)
	r, err := controller.NewEngine(cfg.Server.TrustedProxies, logger)
	if err != nil {
		stdlog.Fatalf("startup: %v", err)
	}
	a.Handler.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		helper.Infof("starting checkout service on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		helper.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		helper.Errorf("server run: %v", err)
	}
}
