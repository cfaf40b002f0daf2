package advisor

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"kimhanh/internal/identity"
	"kimhanh/internal/pkg/metrics"
	"kimhanh/internal/pkg/ratelimit"
)

// Role 对话角色。
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// 生成失败时返回给客户的固定文案。
const (
	FallbackInitial = "Rất tiếc, đã có lỗi xảy ra khi kết nối với trợ lý AI. Vui lòng thử lại sau."
	FallbackReply   = "Xin lỗi, tôi không thể trả lời lúc này. Vui lòng thử lại."
	FallbackBusy    = "Bạn gửi tin nhắn hơi nhanh, vui lòng đợi một chút rồi thử lại."
	FallbackNudge   = "Bạn có muốn tôi gợi ý thêm vài mẫu trang sức hợp mệnh không?"
	DisabledMessage = "Trợ lý AI hiện chưa được bật."
)

// Message 一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Generator 文本生成后端。
type Generator interface {
	Generate(ctx context.Context, contents []Message) (string, error)
}

// Limiter 按作用域限流。
type Limiter interface {
	Acquire(ctx context.Context, scope string) error
}

// Deduper 窗口内去重。
type Deduper interface {
	IsDuplicate(ctx context.Context, key string) (bool, error)
}

// Advisor 风水顾问。所有方法在失败时返回兜底文案，不向调用方返回错误。
type Advisor struct {
	gen     Generator
	limiter Limiter
	deduper Deduper
	logger  *slog.Logger
}

// New 创建顾问。gen 为 nil 时顾问关闭，limiter/deduper 可为 nil。
func New(gen Generator, limiter Limiter, deduper Deduper, logger *slog.Logger) *Advisor {
	return &Advisor{gen: gen, limiter: limiter, deduper: deduper, logger: logger}
}

// Enabled 是否配置了生成后端。
func (a *Advisor) Enabled() bool {
	return a != nil && a.gen != nil
}

// InitialAdvice 身份提交后的第一条建议。
func (a *Advisor) InitialAdvice(ctx context.Context, scope string, id identity.Identity) string {
	if !a.Enabled() {
		return DisabledMessage
	}
	contents := []Message{{Role: RoleUser, Content: FengShuiPrompt(id)}}
	text, err := a.generate(ctx, scope, contents)
	return a.finish("initial", scope, text, err, FallbackInitial)
}

// Reply 在已有对话基础上回答客户的新消息。
//
// 参数:
//
//	ctx: 上下文
//	scope: 限流作用域（会话 ID）
//	id: 客户身份，用于重建开场提示
//	history: 可见的历史消息（不含开场提示）
//	message: 客户新消息
//
// 返回值:
//
//	string: 模型回复，失败时为兜底文案
func (a *Advisor) Reply(ctx context.Context, scope string, id identity.Identity, history []Message, message string) string {
	if !a.Enabled() {
		return DisabledMessage
	}
	contents := conversation(id, history, Message{Role: RoleUser, Content: message})
	text, err := a.generate(ctx, scope, contents)
	return a.finish("reply", scope, text, err, FallbackReply)
}

// Nudge 客户空闲时的主动提示。窗口内已提示过时返回 false。
func (a *Advisor) Nudge(ctx context.Context, scope string, id identity.Identity, history []Message) (string, bool) {
	if !a.Enabled() {
		return "", false
	}
	if a.deduper != nil {
		dup, err := a.deduper.IsDuplicate(ctx, "nudge:"+scope)
		if err != nil {
			a.logger.Warn("nudge dedup failed", slog.String("session_id", scope), slog.String("error", err.Error()))
		}
		if dup {
			metrics.NudgeDuplicatePreventedTotal.Inc()
			return "", false
		}
	}
	contents := conversation(id, history, Message{Role: RoleUser, Content: nudgePrompt})
	text, err := a.generate(ctx, scope, contents)
	return a.finish("nudge", scope, text, err, FallbackNudge), true
}

func (a *Advisor) generate(ctx context.Context, scope string, contents []Message) (string, error) {
	if a.limiter != nil {
		if err := a.limiter.Acquire(ctx, scope); err != nil {
			return "", err
		}
	}
	return a.gen.Generate(ctx, contents)
}

func (a *Advisor) finish(kind, scope, text string, err error, fallback string) string {
	if errors.Is(err, ratelimit.ErrRateLimitTimeout) {
		metrics.ChatRepliesTotal.WithLabelValues(kind, "rate_limited").Inc()
		return FallbackBusy
	}
	if err != nil {
		metrics.ChatRepliesTotal.WithLabelValues(kind, "error").Inc()
		a.logger.Error("advisor generate failed", slog.String("kind", kind), slog.String("session_id", scope), slog.String("error", err.Error()))
		return fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.ChatRepliesTotal.WithLabelValues(kind, "empty").Inc()
		return fallback
	}
	metrics.ChatRepliesTotal.WithLabelValues(kind, "success").Inc()
	return text
}

// conversation 开场提示 + 历史 + 新消息。
func conversation(id identity.Identity, history []Message, next Message) []Message {
	out := make([]Message, 0, len(history)+2)
	out = append(out, Message{Role: RoleUser, Content: FengShuiPrompt(id)})
	out = append(out, history...)
	return append(out, next)
}
