package main

import (
	"context"
	stdErrors "errors"
	"net/http"

	"ImageGen-Console/internal/config"
	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/events"
	"ImageGen-Console/internal/history"
	"ImageGen-Console/internal/observability/alerting"
	"ImageGen-Console/internal/observability/metrics"
	"ImageGen-Console/internal/storage"
	badgerstore "ImageGen-Console/internal/storage/badger"
	mysqlstore "ImageGen-Console/internal/storage/mysql"
	redisstore "ImageGen-Console/internal/storage/redis"
	sqlitestore "ImageGen-Console/internal/storage/sqlite"
	"ImageGen-Console/internal/task"
	"ImageGen-Console/pkg/logger"
	"ImageGen-Console/sdk/go/imagegen"
)

// services 聚合一次命令执行所需的全部组件。
type services struct {
	cfg     *config.Config
	store   storage.Store
	bus     events.Bus
	metrics *metrics.Metrics
	alerter alerting.Dispatcher
	client  *imagegen.Client
	manager *history.Manager
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	client, err := newClient(cfg.Backend)
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	bus, err := openBus(ctx, cfg.Events)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := &services{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		metrics: metrics.New(nil),
		alerter: newAlerter(cfg.Alerting),
		client:  client,
	}
	rt.manager, err = history.NewManager(store, history.Options{
		Namespace:            cfg.Cache.Namespace,
		Version:              cfg.Cache.Version,
		Policy:               history.Policy{MaxAge: cfg.Cache.MaxAge.D(), StaleThreshold: cfg.Cache.StaleThreshold.D()},
		MaxSize:              cfg.Cache.MaxSize,
		IncrementalThreshold: cfg.Cache.IncrementalThreshold,
		BackgroundTimeout:    cfg.Cache.BackgroundTimeout.D(),
	},
		history.WithLogger(logger.Named("history")),
		history.WithMetrics(rt.metrics),
		history.WithAlertDispatcher(rt.alerter),
		history.WithPublisher(bus, events.NewOrigin()),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close 等待后台刷新结束后再释放总线与存储。
func (rt *services) Close() error {
	var err error
	if rt.manager != nil {
		err = stdErrors.Join(err, rt.manager.Close())
	}
	if rt.bus != nil {
		err = stdErrors.Join(err, rt.bus.Close())
	}
	if rt.store != nil {
		err = stdErrors.Join(err, rt.store.Close())
	}
	return err
}

// historyFetch 返回首页的拉取函数。
func (rt *services) historyFetch() history.FetchFunc {
	return history.RemoteFetch(rt.client, imagegen.HistoryQuery{Limit: rt.cfg.Backend.PageSize, Order: "desc"})
}

func newClient(cfg config.BackendConfig) (*imagegen.Client, error) {
	client, err := imagegen.NewClient(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout.D()})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建后端客户端失败")
	}
	client.SetAccessToken(cfg.ResolveAccessToken())
	return client, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case storage.DriverMemory, "":
		return storage.NewMemoryStore(), nil
	case storage.DriverRedis:
		return redisstore.New(ctx, redisstore.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL.D(),
		})
	case storage.DriverMySQL:
		return mysqlstore.New(ctx, mysqlstore.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime.D(),
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime.D(),
		})
	case storage.DriverSQLite:
		return sqlitestore.Open(ctx, cfg.SQLite.Path)
	case storage.DriverBadger:
		return badgerstore.Open(badgerstore.Config{
			Path:           cfg.Badger.Path,
			InMemory:       cfg.Badger.InMemory,
			SyncWrites:     cfg.Badger.SyncWrites,
			GCInterval:     cfg.Badger.GCInterval.D(),
			GCDiscardRatio: cfg.Badger.GCDiscardRatio,
			Logger:         logger.Named("badger"),
		})
	default:
		return nil, storage.ErrUnsupportedDriver
	}
}

func openBus(ctx context.Context, cfg config.EventsConfig) (events.Bus, error) {
	switch cfg.Driver {
	case events.DriverNone, "":
		return events.Nop{}, nil
	case events.DriverMemory:
		return events.NewMemoryBus(64), nil
	case events.DriverRedis:
		return events.NewRedisBus(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
	case events.DriverRabbitMQ:
		return events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的事件驱动: "+cfg.Driver)
	}
}

func newAlerter(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout.D()))
	}
	return alerting.NewFanout(notifiers...)
}

// newPoller 构造指定类型的轮询器，配置中的非零值覆盖内置节奏。
func newPoller(rt *services, kind string) (*task.Poller, error) {
	profile, err := task.LookupProfile(kind)
	if err != nil {
		return nil, err
	}
	var override config.PollProfileConfig
	switch profile.Name {
	case task.ProfileTask:
		override = rt.cfg.Poller.Task
	case task.ProfileUpscale:
		override = rt.cfg.Poller.Upscale
	case task.ProfileVideo:
		override = rt.cfg.Poller.Video
	}
	profile = profile.WithOverrides(override.Interval.D(), override.MaxAttempts)
	return task.NewPoller(rt.client, profile,
		task.WithPollerLogger(logger.Named("poller")),
		task.WithPollerMetrics(rt.metrics),
		task.WithAlertDispatcher(rt.alerter),
		task.WithErrorPolicy(rt.cfg.Poller.ErrorInterval.D(), rt.cfg.Poller.MaxConsecutiveErrors),
	)
}
