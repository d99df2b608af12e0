package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/events"
	"ImageGen-Console/internal/observability/alerting"
	"ImageGen-Console/internal/observability/metrics"
	"ImageGen-Console/internal/storage"
	"ImageGen-Console/pkg/logger"
)

const tracerName = "ImageGen-Console/internal/history"

// DefaultBackgroundTimeout 限制单次后台刷新的耗时。
const DefaultBackgroundTimeout = 30 * time.Second

// Options 为 Manager 的缓存参数，零值字段使用默认值。
type Options struct {
	Namespace            string
	Version              string
	Policy               Policy
	MaxSize              int
	IncrementalThreshold int
	BackgroundTimeout    time.Duration
}

// Manager 持有一个命名空间下的历史缓存。所有方法可并发调用。
type Manager struct {
	namespace  string
	persist    *Persistence
	policy     Policy
	threshold  int
	bgTimeout  time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics
	alerter    alerting.Dispatcher
	publisher  events.Publisher
	origin     string
	tracer     trace.Tracer
	refreshing singleflight.Group

	bgMu   sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// ManagerOption 定义可选配置。
type ManagerOption func(*Manager)

// WithClock 替换时间来源，便于测试新鲜度。
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics 配置指标。
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ManagerOption {
	return func(m *Manager) {
		m.alerter = dispatcher
	}
}

// WithPublisher 配置缓存事件的发布者，origin 标识当前实例。
func WithPublisher(publisher events.Publisher, origin string) ManagerOption {
	return func(m *Manager) {
		m.publisher = publisher
		if origin != "" {
			m.origin = origin
		}
	}
}

// WithTracer 替换默认的全局 tracer。
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// NewManager 构造 Manager。store 的生命周期由调用方管理。
func NewManager(store storage.Store, opts Options, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "历史缓存缺少存储")
	}
	if opts.IncrementalThreshold <= 0 {
		opts.IncrementalThreshold = DefaultIncrementalThreshold
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = DefaultBackgroundTimeout
	}
	persist := NewPersistence(store, opts.Namespace, opts.Version, opts.MaxSize)
	m := &Manager{
		persist:   persist,
		policy:    opts.Policy.normalized(),
		threshold: opts.IncrementalThreshold,
		bgTimeout: opts.BackgroundTimeout,
		now:       time.Now,
		logger:    logger.Named("history"),
		tracer:    otel.Tracer(tracerName),
		origin:    events.NewOrigin(),
	}
	m.namespace = opts.Namespace
	if m.namespace == "" {
		m.namespace = DefaultNamespace
	}
	for _, opt := range options {
		if opt != nil {
			opt(m)
		}
	}
	persist.now = m.now
	return m, nil
}

// Namespace 返回缓存命名空间。
func (m *Manager) Namespace() string { return m.namespace }

// Origin 返回当前实例 ID。
func (m *Manager) Origin() string { return m.origin }

// Policy 返回生效的新鲜度策略。
func (m *Manager) Policy() Policy { return m.policy }

// LoadOption 调整单次 SmartLoad 的行为。
type LoadOption func(*loadConfig)

type loadConfig struct {
	force    bool
	useCache bool
}

// WithForceRefresh 跳过缓存直接拉取。
func WithForceRefresh() LoadOption {
	return func(c *loadConfig) { c.force = true }
}

// WithoutCache 不读取缓存，但拉取结果仍会写入缓存。
func WithoutCache() LoadOption {
	return func(c *loadConfig) { c.useCache = false }
}

// LoadResult 为 SmartLoad 的返回值。
type LoadResult struct {
	Data       []Entry
	Meta       *Meta
	TotalCount int
	HasMore    bool
	FromCache  bool
	// Stale 为 true 时已在后台发起刷新。
	Stale bool
}

// SmartLoad 按以下优先级返回历史列表：
//  1. 强制刷新：拉取并覆盖缓存；
//  2. 缓存 Fresh：直接返回缓存；
//  3. 缓存 Stale：返回缓存并在后台拉取覆盖；
//  4. 其余情况：同步拉取并覆盖缓存。
//
// 前台拉取失败时返回 CodeUpstreamFailure，缓存保持不变。
func (m *Manager) SmartLoad(ctx context.Context, fetch FetchFunc, opts ...LoadOption) (*LoadResult, error) {
	if fetch == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "fetch 不能为空")
	}
	cfg := loadConfig{useCache: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	ctx, span := m.tracer.Start(ctx, "history.SmartLoad", trace.WithAttributes(
		attribute.String("namespace", m.namespace),
		attribute.Bool("force_refresh", cfg.force),
		attribute.Bool("use_cache", cfg.useCache),
	))
	defer span.End()

	if cfg.force {
		m.logger.Debug("强制刷新，跳过缓存")
		return m.fetchAndStore(ctx, span, fetch, "forced")
	}

	if cfg.useCache {
		if snap := m.load(ctx); snap != nil {
			freshness := m.policy.Classify(&snap.Meta, m.now())
			span.SetAttributes(attribute.String("freshness", freshness.String()))
			switch freshness {
			case Fresh:
				m.metrics.ObserveLoad("fresh")
				return cachedResult(snap, false), nil
			case Stale:
				m.metrics.ObserveLoad("stale")
				m.refreshInBackground(ctx, fetch)
				return cachedResult(snap, true), nil
			}
		}
	}
	return m.fetchAndStore(ctx, span, fetch, "fetched")
}

func cachedResult(snap *Snapshot, stale bool) *LoadResult {
	meta := snap.Meta
	return &LoadResult{
		Data:       snap.Data,
		Meta:       &meta,
		TotalCount: meta.TotalCount,
		HasMore:    meta.HasMore,
		FromCache:  true,
		Stale:      stale,
	}
}

func (m *Manager) fetchAndStore(ctx context.Context, span trace.Span, fetch FetchFunc, source string) (*LoadResult, error) {
	page, err := m.fetch(ctx, fetch, "foreground")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	m.metrics.ObserveLoad(source)

	result := &LoadResult{Data: page.Data, TotalCount: page.TotalCount, HasMore: page.HasMore}
	if snap := m.store(ctx, page); snap != nil {
		meta := snap.Meta
		result.Meta = &meta
	}
	return result, nil
}

// fetch 调用上游并记录耗时，失败统一包装为 CodeUpstreamFailure。
func (m *Manager) fetch(ctx context.Context, fetch FetchFunc, mode string) (*Page, error) {
	started := time.Now()
	page, err := fetch(ctx)
	m.metrics.ObserveFetch(mode, err, time.Since(started))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "拉取历史记录失败",
			xerrors.WithMetadata("mode", mode))
	}
	if page == nil {
		page = &Page{}
	}
	if page.Data == nil {
		page.Data = []Entry{}
	}
	return page, nil
}

// store 覆盖写入缓存。写入失败只记录日志与告警，返回 nil。
func (m *Manager) store(ctx context.Context, page *Page) *Snapshot {
	snap, err := m.persist.Save(ctx, page.Data, page.TotalCount, page.HasMore)
	if err != nil {
		m.logger.Error("写入历史缓存失败", slog.Any("error", err))
		if xerrors.ShouldAlert(err) {
			m.alert(ctx, err)
		}
		return nil
	}
	m.metrics.ObserveWrite(len(snap.Data))
	logger.Audit().Info("history_cache_written",
		slog.String("namespace", m.namespace),
		slog.Int("entries", len(snap.Data)),
		slog.Int("total_count", snap.Meta.TotalCount))

	event := events.New(events.TypeRefreshed, m.namespace, m.origin)
	event.Count = len(snap.Data)
	m.publish(ctx, event)
	return snap
}

// load 读取缓存，任何错误都视为没有缓存。
func (m *Manager) load(ctx context.Context) *Snapshot {
	snap, err := m.persist.Load(ctx)
	if err == nil {
		return snap
	}
	switch xerrors.CodeOf(err) {
	case CodeCacheCorrupted:
		m.metrics.ObserveInvalidation("corrupted")
		m.logger.Warn("历史缓存已损坏，已清除", slog.Any("error", err))
	case CodeCacheVersionMismatch:
		m.metrics.ObserveInvalidation("version_mismatch")
		m.logger.Info("历史缓存版本不匹配，已清除", slog.Any("error", err))
	default:
		m.logger.Warn("读取历史缓存失败，按无缓存处理", slog.Any("error", err))
	}
	return nil
}

// refreshInBackground 在后台拉取并整体覆盖缓存。同一时刻最多一个后台刷新，
// 并发的 Stale 读取共享它。刷新不受调用方取消影响，只受 bgTimeout 约束。
func (m *Manager) refreshInBackground(parent context.Context, fetch FetchFunc) {
	m.bgMu.Lock()
	if m.closed {
		m.bgMu.Unlock()
		return
	}
	m.wg.Add(1)
	m.bgMu.Unlock()

	ch := m.refreshing.DoChan("refresh", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.bgTimeout)
		defer cancel()
		return nil, m.backgroundRefresh(ctx, fetch)
	})
	go func() {
		defer m.wg.Done()
		<-ch
	}()
}

func (m *Manager) backgroundRefresh(ctx context.Context, fetch FetchFunc) error {
	ctx, span := m.tracer.Start(ctx, "history.BackgroundRefresh",
		trace.WithAttributes(attribute.String("namespace", m.namespace)))
	defer span.End()

	page, err := m.fetch(ctx, fetch, "background")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "background refresh failed")
		m.logger.Warn("后台刷新失败，保留旧缓存", slog.Any("error", err))
		m.alert(ctx, err)
		return err
	}
	m.store(ctx, page)
	m.logger.Debug("后台刷新完成", slog.Int("entries", len(page.Data)))
	return nil
}

// Peek 只读取缓存，不触发拉取。
func (m *Manager) Peek(ctx context.Context) (*Snapshot, Freshness) {
	snap := m.load(ctx)
	if snap == nil {
		return nil, Expired
	}
	return snap, m.policy.Classify(&snap.Meta, m.now())
}

// Invalidate 清空缓存并通知其他实例。
func (m *Manager) Invalidate(ctx context.Context) error {
	if err := m.clear(ctx, "manual"); err != nil {
		return err
	}
	event := events.New(events.TypeInvalidated, m.namespace, m.origin)
	event.Reason = "manual"
	m.publish(ctx, event)
	return nil
}

func (m *Manager) clear(ctx context.Context, reason string) error {
	if err := m.persist.Clear(ctx); err != nil {
		m.logger.Error("清除历史缓存失败", slog.Any("error", err))
		return err
	}
	m.metrics.ObserveInvalidation(reason)
	logger.Audit().Info("history_cache_cleared",
		slog.String("namespace", m.namespace),
		slog.String("reason", reason))
	return nil
}

// HandleEvent 响应其他实例的失效通知。可直接作为 events.Handler 使用。
func (m *Manager) HandleEvent(ctx context.Context, event events.Event) error {
	if event.Origin == m.origin || event.Namespace != m.namespace {
		return nil
	}
	switch event.Type {
	case events.TypeInvalidated:
		m.logger.Info("收到远端失效通知", slog.String("origin", event.Origin), slog.String("event_id", event.ID))
		return m.clear(ctx, "remote")
	default:
		return nil
	}
}

// SyncResult 为一次增量同步的结果。
type SyncResult struct {
	Diff DiffResult
	// Data 为写入缓存的列表：增量时为合并结果，否则为最新一页。
	Data   []Entry
	Merged bool
	Meta   *Meta
}

// Sync 拉取最新一页并与缓存比较，变更较小时写入合并结果，否则整体替换。
func (m *Manager) Sync(ctx context.Context, fetch FetchFunc) (*SyncResult, error) {
	if fetch == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "fetch 不能为空")
	}
	ctx, span := m.tracer.Start(ctx, "history.Sync",
		trace.WithAttributes(attribute.String("namespace", m.namespace)))
	defer span.End()

	var cached []Entry
	if snap := m.load(ctx); snap != nil {
		cached = snap.Data
	}
	page, err := m.fetch(ctx, fetch, "sync")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync fetch failed")
		return nil, err
	}

	diff := Diff(cached, page.Data, m.threshold)
	result := &SyncResult{Diff: diff, Data: page.Data, Merged: diff.Incremental}
	if diff.Incremental {
		result.Data = Merge(diff)
	}
	m.metrics.ObserveSync(diff.Incremental)
	span.SetAttributes(
		attribute.Int("new", len(diff.New)),
		attribute.Int("updated", len(diff.Updated)),
		attribute.Int("removed", len(diff.Removed)),
		attribute.Bool("incremental", diff.Incremental),
	)
	m.logger.Info("增量同步完成",
		slog.Int("new", len(diff.New)),
		slog.Int("updated", len(diff.Updated)),
		slog.Int("removed", len(diff.Removed)),
		slog.Bool("incremental", diff.Incremental))

	if snap := m.store(ctx, &Page{Data: result.Data, TotalCount: page.TotalCount, HasMore: page.HasMore}); snap != nil {
		meta := snap.Meta
		result.Meta = &meta
	}
	return result, nil
}

// Wait 阻塞直到所有后台刷新结束。
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close 拒绝新的后台刷新并等待进行中的刷新结束。
func (m *Manager) Close() error {
	m.bgMu.Lock()
	m.closed = true
	m.bgMu.Unlock()
	m.wg.Wait()
	return nil
}

func (m *Manager) alert(ctx context.Context, err error) {
	if m.alerter == nil {
		return
	}
	event := alerting.FromError("history", m.namespace, err)
	if notifyErr := m.alerter.Notify(ctx, event); notifyErr != nil {
		m.logger.Warn("发送告警失败", slog.Any("error", notifyErr))
	}
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("发布缓存事件失败", slog.String("type", string(event.Type)), slog.Any("error", err))
	}
}
