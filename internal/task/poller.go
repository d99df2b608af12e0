package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/observability/alerting"
	"ImageGen-Console/internal/observability/metrics"
	"ImageGen-Console/pkg/logger"
	"ImageGen-Console/sdk/go/imagegen"
)

// Outcome 为一次轮询的终态。
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCanceled  Outcome = "canceled"
)

const (
	CodePollAborted xerrors.Code = "POLL_ABORTED"
	CodePollTimeout xerrors.Code = "POLL_TIMEOUT"
	CodeTaskFailed  xerrors.Code = "TASK_FAILED"
)

func init() {
	xerrors.Register(CodePollAborted, xerrors.Attributes{
		Message:    "polling aborted after consecutive errors",
		Severity:   xerrors.SeverityCritical,
		Retryable:  true,
		Alert:      true,
		HTTPStatus: http.StatusBadGateway,
	})
	xerrors.Register(CodePollTimeout, xerrors.Attributes{
		Message:    "polling attempts exhausted",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		Alert:      true,
		HTTPStatus: http.StatusGatewayTimeout,
	})
	xerrors.Register(CodeTaskFailed, xerrors.Attributes{
		Message:    "task failed",
		Severity:   xerrors.SeverityInfo,
		Retryable:  false,
		Alert:      false,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
}

const (
	// DefaultErrorInterval 为请求出错后的重试间隔。
	DefaultErrorInterval = 2 * time.Second
	// DefaultMaxConsecutiveErrors 为连续出错的上限，达到后终止轮询。
	DefaultMaxConsecutiveErrors = 5

	networkErrorMessage = "网络连接异常，请检查网络后手动刷新页面"
)

// Callbacks 接收轮询过程中的通知，所有字段均可为空。
type Callbacks struct {
	OnProgress func(progress int)
	OnSuccess  func(status *imagegen.TaskStatus) error
	OnError    func(message string)
	OnTimeout  func()
}

func (c Callbacks) progress(value int) {
	if c.OnProgress != nil {
		c.OnProgress(value)
	}
}

func (c Callbacks) success(status *imagegen.TaskStatus) error {
	if c.OnSuccess != nil {
		return c.OnSuccess(status)
	}
	return nil
}

func (c Callbacks) fail(message string) {
	if c.OnError != nil {
		c.OnError(message)
	}
}

func (c Callbacks) timeout() {
	if c.OnTimeout != nil {
		c.OnTimeout()
	}
}

// WaitFunc 阻塞 d 或直到 ctx 结束。
type WaitFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller 按 Profile 轮询单个任务。同一任务同一时刻只有一个请求在途，
// 下一次请求在上一次响应处理完成后才会排期。
type Poller struct {
	source        StatusSource
	profile       Profile
	errorInterval time.Duration
	maxErrors     int
	wait          WaitFunc
	logger        *slog.Logger
	metrics       *metrics.Metrics
	alerter       alerting.Dispatcher
	tracer        trace.Tracer
}

// PollerOption 定义可选配置。
type PollerOption func(*Poller)

// WithPollerLogger 指定日志输出。
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPollerMetrics 配置指标。
func WithPollerMetrics(mx *metrics.Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = mx
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) PollerOption {
	return func(p *Poller) {
		p.alerter = dispatcher
	}
}

// WithWait 替换等待函数，测试中用于跳过真实的间隔。
func WithWait(wait WaitFunc) PollerOption {
	return func(p *Poller) {
		if wait != nil {
			p.wait = wait
		}
	}
}

// WithErrorPolicy 调整出错重试间隔与连续出错上限。
func WithErrorPolicy(interval time.Duration, maxConsecutive int) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.errorInterval = interval
		}
		if maxConsecutive > 0 {
			p.maxErrors = maxConsecutive
		}
	}
}

// NewPoller 构造 Poller。
func NewPoller(source StatusSource, profile Profile, opts ...PollerOption) (*Poller, error) {
	if source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "轮询器缺少状态查询后端")
	}
	if profile.Name == "" {
		profile.Name = ProfileTask
	}
	if profile.Interval <= 0 || profile.MaxAttempts <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("轮询配置 %s 的间隔与次数必须为正数", profile.Name))
	}
	p := &Poller{
		source:        source,
		profile:       profile,
		errorInterval: DefaultErrorInterval,
		maxErrors:     DefaultMaxConsecutiveErrors,
		wait:          sleep,
		logger:        logger.Named("poller"),
		tracer:        otel.Tracer("ImageGen-Console/internal/task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Profile 返回生效的配置。
func (p *Poller) Profile() Profile { return p.profile }

// Poll 轮询 taskID 直到终态。返回的错误与 Outcome 对应：
// Completed 时为 OnSuccess 的返回值，Failed 为 CodeTaskFailed，
// TimedOut 为 CodePollTimeout，Aborted 为 CodePollAborted，Canceled 为 ctx 的错误。
func (p *Poller) Poll(ctx context.Context, taskID string, cb Callbacks) (Outcome, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	ctx, span := p.tracer.Start(ctx, "task.Poll", trace.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("profile", p.profile.Name),
	))
	defer span.End()

	outcome, attempts, err := p.run(ctx, taskID, cb)
	span.SetAttributes(attribute.String("outcome", string(outcome)), attribute.Int("attempts", attempts))
	if err != nil && outcome != OutcomeFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}
	p.finish(ctx, taskID, outcome, attempts, err)
	return outcome, err
}

func (p *Poller) run(ctx context.Context, taskID string, cb Callbacks) (Outcome, int, error) {
	attempts := 0
	consecutive := 0
	for {
		status, err := p.profile.query(ctx, p.source, taskID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return OutcomeCanceled, attempts, ctxErr
		}
		if err == nil && status == nil {
			err = stdErrors.New("后端返回空的任务状态")
		}

		var delay time.Duration
		if err != nil {
			consecutive++
			p.logger.Warn("查询任务状态失败",
				slog.String("task_id", taskID),
				slog.Int("consecutive_errors", consecutive),
				slog.Any("error", err))
			if consecutive >= p.maxErrors {
				cb.fail(networkErrorMessage)
				return OutcomeAborted, attempts, xerrors.Wrap(CodePollAborted, err,
					fmt.Sprintf("任务 %s 连续 %d 次查询失败", taskID, consecutive))
			}
			attempts++
			if attempts >= p.profile.MaxAttempts {
				cb.fail(p.profile.TimeoutMessage)
				return OutcomeTimedOut, attempts, xerrors.Wrap(CodePollTimeout, err,
					fmt.Sprintf("任务 %s 查询次数已用尽", taskID))
			}
			delay = p.errorInterval
		} else {
			consecutive = 0
			if p.profile.ReportProgress {
				cb.progress(p.profile.progressOf(status))
			}
			switch status.Status {
			case imagegen.StatusCompleted:
				if p.profile.ReportCompletion {
					cb.progress(100)
				}
				return OutcomeCompleted, attempts + 1, cb.success(status)
			case imagegen.StatusFailed:
				message := p.profile.failureMessage(status)
				cb.fail(message)
				return OutcomeFailed, attempts + 1, xerrors.New(CodeTaskFailed, message,
					xerrors.WithMetadata("task_id", taskID))
			}
			attempts++
			if attempts >= p.profile.MaxAttempts {
				cb.timeout()
				return OutcomeTimedOut, attempts, xerrors.New(CodePollTimeout,
					fmt.Sprintf("任务 %s 在 %d 次查询后仍未完成", taskID, attempts))
			}
			delay = p.profile.Interval
		}

		if err := p.wait(ctx, delay); err != nil {
			return OutcomeCanceled, attempts, err
		}
	}
}

func (p *Poller) finish(ctx context.Context, taskID string, outcome Outcome, attempts int, err error) {
	p.metrics.ObservePoll(p.profile.Name, string(outcome))

	attrs := []any{
		slog.String("task_id", taskID),
		slog.String("profile", p.profile.Name),
		slog.String("outcome", string(outcome)),
		slog.Int("attempts", attempts),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	switch outcome {
	case OutcomeCompleted:
		logger.Audit().Info("task_poll_finished", attrs...)
	case OutcomeCanceled:
		p.logger.Debug("轮询已取消", attrs...)
		return
	default:
		logger.Audit().Warn("task_poll_finished", attrs...)
	}

	if err == nil || !xerrors.ShouldAlert(err) || p.alerter == nil {
		return
	}
	event := alerting.FromError("poller", taskID, err)
	event.Attempts = attempts
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["profile"] = p.profile.Name
	if notifyErr := p.alerter.Notify(ctx, event); notifyErr != nil {
		p.logger.Error("告警通知失败", slog.Any("error", notifyErr), slog.String("task_id", taskID))
	}
}

// Result 为 PollAll 中单个任务的结果。
type Result struct {
	TaskID  string
	Outcome Outcome
	Err     error
}

// PollAll 并发轮询多个任务，limit 限制同时在途的任务数（<=0 表示不限）。
// 单个任务的失败不会中断其他任务，结果顺序与 taskIDs 一致。
func (p *Poller) PollAll(ctx context.Context, taskIDs []string, limit int, callbacks func(taskID string) Callbacks) []Result {
	results := make([]Result, len(taskIDs))
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	for i, id := range taskIDs {
		i, id := i, id
		group.Go(func() error {
			var cb Callbacks
			if callbacks != nil {
				cb = callbacks(id)
			}
			outcome, err := p.Poll(groupCtx, id, cb)
			mu.Lock()
			results[i] = Result{TaskID: id, Outcome: outcome, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return results
}
