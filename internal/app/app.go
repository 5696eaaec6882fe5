// Package app assembles the checkout components shared by the server and
// the cron binaries.
package app

import (
	"context"
	"fmt"
	"os"

	"checkout-service/internal/cache"
	"checkout-service/internal/config"
	controller "checkout-service/internal/controllers/http"
	"checkout-service/internal/infra"
	dbinfra "checkout-service/internal/infra/mysql"
	"checkout-service/internal/infra/rabbitmq"
	mysqlrepo "checkout-service/internal/repository/mysql"
	"checkout-service/internal/services"
	"checkout-service/internal/signature"

	"github.com/bwmarrin/snowflake"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Handler *controller.Handler
	Sweeper *services.Sweeper
	Logger  log.Logger
}

// NewLogger returns the process logger filtered at the configured level.
func NewLogger(c config.Log, name string) log.Logger {
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", name,
	)
	return log.NewFilter(logger, log.FilterLevel(log.ParseLevel(c.Level)))
}

// New connects every backing service and wires the checkout graph. The
// returned cleanup releases the connections in reverse order.
func New(cfg config.Config, logger log.Logger) (*App, func(), error) {
	helper := log.NewHelper(logger)
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := dbinfra.NewMySQL(cfg.MySQL)
	if err != nil {
		return nil, nil, fmt.Errorf("db: connect: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		closers = append(closers, func() { _ = sqlDB.Close() })
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout.Duration,
		ReadTimeout:  cfg.Redis.ReadTimeout.Duration,
		WriteTimeout: cfg.Redis.WriteTimeout.Duration,
	})
	closers = append(closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
	}

	var publisher rabbitmq.PublisherInterface = rabbitmq.NopPublisher{}
	if cfg.RabbitMQ.URL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to init publisher: %w", err)
		}
		closers = append(closers, p.Close)
		publisher = p
	} else {
		helper.Warn("rabbitmq.url is empty, checkout events will not be published")
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	cipher, err := infra.NewAESCipher(cfg.EncryptionKey)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	verifier := signature.NewVerifier(cfg.Webhook, logger)
	if !verifier.Configured() {
		helper.Warn("webhook keycode is empty, payment callbacks will be rejected")
	}
	gateway := infra.NewGatewayClient(cfg.Gateway, logger)

	tx := mysqlrepo.NewTransactor(db)
	orders := mysqlrepo.NewOrderRepository(db, node, logger)
	entitlements := mysqlrepo.NewEntitlementRepository(db, node, logger)
	merchants := mysqlrepo.NewMerchantRepository(db, logger)
	pricing := mysqlrepo.NewPricingRepository(db, logger)
	callbacks := mysqlrepo.NewCallbackLogRepository(db, node)

	entCache := cache.NewEntitlementCache(rdb, entitlements, cfg.Cache.EntitlementTTL.Duration, logger)
	fulfillment := services.NewFulfillmentPipeline(tx, orders, entitlements, merchants, entCache, gateway, cipher, publisher, logger)

	handler := controller.NewHandler(
		services.NewOrderService(orders, entitlements, merchants, pricing, gateway, cipher, fulfillment, cfg.Checkout, logger),
		services.NewEntitlementService(tx, entitlements, pricing, entCache, publisher, logger),
		services.NewMerchantService(merchants, gateway, cipher, logger),
		services.NewPricingService(pricing, logger),
		services.NewCallbackService(verifier, orders, callbacks, fulfillment, logger),
		logger,
	)

	rs := redsync.New(goredis.NewPool(rdb))
	sweeper := services.NewSweeper(orders, entitlements, entCache, rs, cfg.Cron.LockTTL.Duration, logger)

	return &App{Handler: handler, Sweeper: sweeper, Logger: logger}, cleanup, nil
}
