package notify

import (
	"context"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

// Notifier 定义运行结束后的通知接口。
type Notifier interface {
	// RunSummary 发送一次运行的摘要（记录数、确认售出列表、各搜索组合的诊断）。
	RunSummary(ctx context.Context, snap model.Snapshot) error
	// Abort 发送运行中止通知，上一次的快照保持不变。
	Abort(ctx context.Context, reason string, cause error) error
}

// Nop 不发送任何通知。
type Nop struct{}

func (Nop) RunSummary(context.Context, model.Snapshot) error { return nil }

func (Nop) Abort(context.Context, string, error) error { return nil }
