package task

import (
	"context"
	"strings"
	"time"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/sdk/go/imagegen"
)

// Endpoint 指定状态查询使用的后端接口。
type Endpoint string

const (
	EndpointTask    Endpoint = "task"
	EndpointUpscale Endpoint = "upscale"
)

// Profile 描述一类任务的轮询节奏与提示文案。
type Profile struct {
	Name        string
	Endpoint    Endpoint
	Interval    time.Duration
	MaxAttempts int
	// ReportProgress 为 false 时不回调 OnProgress。
	ReportProgress bool
	// DefaultProgress 在后端未返回进度时使用。
	DefaultProgress int
	// ReportCompletion 为 true 时在成功前额外回调一次 100。
	ReportCompletion bool
	// FailureMessage 为任务失败时的提示；UseTaskError 为 true 时优先使用后端错误信息。
	FailureMessage string
	UseTaskError   bool
	// TimeoutMessage 为出错路径上次数耗尽时的提示。
	TimeoutMessage string
}

const (
	ProfileTask    = "task"
	ProfileUpscale = "upscale"
	ProfileVideo   = "video"
)

// TaskProfile 为普通生图任务。
func TaskProfile() Profile {
	return Profile{
		Name:           ProfileTask,
		Endpoint:       EndpointTask,
		Interval:       2 * time.Second,
		MaxAttempts:    120,
		ReportProgress: true,
		FailureMessage: "任务失败",
		UseTaskError:   true,
		TimeoutMessage: "任务检查超时，请手动刷新页面查看结果",
	}
}

// UpscaleProfile 为图片放大任务。
func UpscaleProfile() Profile {
	return Profile{
		Name:             ProfileUpscale,
		Endpoint:         EndpointUpscale,
		Interval:         time.Second,
		MaxAttempts:      180,
		ReportProgress:   true,
		DefaultProgress:  50,
		ReportCompletion: true,
		FailureMessage:   "图片放大失败",
		TimeoutMessage:   "放大任务检查超时，请手动刷新页面查看结果",
	}
}

// VideoProfile 为视频生成任务。
func VideoProfile() Profile {
	return Profile{
		Name:           ProfileVideo,
		Endpoint:       EndpointTask,
		Interval:       2 * time.Second,
		MaxAttempts:    300,
		FailureMessage: "视频生成失败",
		TimeoutMessage: "视频任务检查超时，请手动刷新页面查看结果",
	}
}

// LookupProfile 按名称返回内置 Profile。
func LookupProfile(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProfileTask:
		return TaskProfile(), nil
	case ProfileUpscale:
		return UpscaleProfile(), nil
	case ProfileVideo:
		return VideoProfile(), nil
	default:
		return Profile{}, xerrors.New(xerrors.CodeInvalidArgument, "未知的轮询类型: "+name)
	}
}

// WithOverrides 用非零值覆盖间隔与次数。
func (p Profile) WithOverrides(interval time.Duration, maxAttempts int) Profile {
	if interval > 0 {
		p.Interval = interval
	}
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	return p
}

func (p Profile) progressOf(status *imagegen.TaskStatus) int {
	if status.Progress != nil && *status.Progress != 0 {
		return *status.Progress
	}
	return p.DefaultProgress
}

func (p Profile) failureMessage(status *imagegen.TaskStatus) string {
	if p.UseTaskError && status.Error != nil && *status.Error != "" {
		return *status.Error
	}
	return p.FailureMessage
}

// StatusSource 为查询任务状态的后端，*imagegen.Client 满足该接口。
type StatusSource interface {
	GetTask(ctx context.Context, taskID string) (*imagegen.TaskStatus, error)
	GetUpscale(ctx context.Context, taskID string) (*imagegen.TaskStatus, error)
}

func (p Profile) query(ctx context.Context, source StatusSource, taskID string) (*imagegen.TaskStatus, error) {
	if p.Endpoint == EndpointUpscale {
		return source.GetUpscale(ctx, taskID)
	}
	return source.GetTask(ctx, taskID)
}
