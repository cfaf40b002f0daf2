package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kimhanh/internal/advisor"
	"kimhanh/internal/canvas"
	"kimhanh/internal/catalog"
	"kimhanh/internal/goldprice"
	"kimhanh/internal/identity"
	"kimhanh/internal/persist"
	"kimhanh/internal/pkg/metrics"
	"kimhanh/internal/pkg/notify"
	"kimhanh/internal/pricing"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrItemNotFound    = errors.New("item not found on canvas")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrNoIdentity      = errors.New("identity not set")
	ErrInvalidIndex    = errors.New("reorder index out of range")
	ErrClosed          = errors.New("session closed")

	// errUnchanged 变更未修改画布：不保存，也不返回错误。
	errUnchanged = errors.New("canvas unchanged")
)

// Deps 会话共享的依赖。
type Deps struct {
	Catalog     *catalog.Store
	Feed        *goldprice.Feed
	Collections *persist.Bridge
	Customers   persist.CustomerStore
	Advisor     *advisor.Advisor
	Notifier    notify.Notifier
	Units       int           // 金价换算除数
	NudgeDelay  time.Duration // 聊天空闲提醒，0 表示关闭
	Logger      *slog.Logger
}

// ItemView 画布实例及其当前展示图片。
type ItemView struct {
	canvas.PlacedItem
	ImageURL     string `json:"image_url"`
	VariantIndex int    `json:"variant_index"`
}

// Snapshot 画布与价格汇总的一致快照。
type Snapshot struct {
	Items   []ItemView      `json:"items"`
	Summary pricing.Summary `json:"summary"`
	Version uint64          `json:"version"`
}

// Session 一位客户的操作上下文：身份、画布、价格汇总与聊天记录。
//
// 所有画布变更在 mu 下串行执行。
type Session struct {
	ID string

	deps *Deps

	mu       sync.Mutex
	identity *identity.Identity
	canvas   *canvas.Canvas
	agg      *pricing.Aggregator
	chat     []advisor.Message
	closed   bool

	idle       *advisor.IdleTimer
	ctx        context.Context
	cancel     context.CancelFunc
	lastActive atomic.Int64
}

func newSession(id string, deps *Deps, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     id,
		deps:   deps,
		canvas: canvas.New(),
		agg:    pricing.NewAggregator(deps.Feed, deps.Units),
		ctx:    ctx,
		cancel: cancel,
	}
	s.idle = advisor.NewIdleTimer(deps.NudgeDelay, s.onIdle)
	s.lastActive.Store(now.UnixNano())
	return s
}

// LastActive 最近一次活动时间。
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// Close 停止计时器并取消后台调用，可重复调用。
func (s *Session) Close() {
	s.idle.Stop()
	s.cancel()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// SetIdentity 提交身份信息。
//
// 身份键变化时画布替换为该身份已保存的收藏集（没有则为空）并清空聊天记录；
// 聊天为空时请求开场建议。同一身份重复提交只更新资料。
//
// 参数:
//
//	ctx: 上下文
//	id: 客户身份（会先规范化再校验）
//
// 返回值:
//
//	Snapshot: 加载后的画布快照
//	error: 校验失败时返回 identity 包中的错误
func (s *Session) SetIdentity(ctx context.Context, id identity.Identity) (Snapshot, error) {
	id = id.Normalize()
	if err := id.Validate(); err != nil {
		return Snapshot{}, err
	}

	if s.deps.Customers != nil {
		if err := s.deps.Customers.UpsertCustomer(ctx, id.ToCustomer()); err != nil {
			s.deps.Logger.Warn("save customer failed", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	switched := s.identity == nil || s.identity.Key() != id.Key()
	if switched {
		s.canvas.Replace(s.deps.Collections.Load(ctx, id.Key()))
		s.chat = nil
	}
	s.identity = &id
	needAdvice := len(s.chat) == 0
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Logger.Info("identity set",
		slog.String("session_id", s.ID),
		slog.String("purchase_type", string(id.PurchaseType)),
		slog.Bool("switched", switched),
		slog.Int("items", len(snap.Items)))

	if needAdvice && s.deps.Advisor.Enabled() {
		advice := s.deps.Advisor.InitialAdvice(ctx, s.ID, id)
		s.mu.Lock()
		if s.identity != nil && s.identity.Key() == id.Key() && len(s.chat) == 0 {
			s.chat = append(s.chat, advisor.Message{Role: advisor.RoleModel, Content: advice})
		}
		s.mu.Unlock()
		s.idle.Touch()
	}
	return snap, nil
}

// Identity 当前身份。
func (s *Session) Identity() (identity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return identity.Identity{}, false
	}
	return *s.identity, true
}

// Snapshot 当前画布快照。
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Summary 当前价格汇总。
func (s *Session) Summary() pricing.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Summary(s.canvas)
}

// AddProduct 把目录中的商品放到画布上。
func (s *Session) AddProduct(ctx context.Context, productID int64) (ItemView, error) {
	p, ok := s.deps.Catalog.Product(productID)
	if !ok {
		metrics.CanvasMutationsTotal.WithLabelValues("add", "not_found").Inc()
		return ItemView{}, ErrProductNotFound
	}
	var item canvas.PlacedItem
	err := s.mutate(ctx, "add", func(c *canvas.Canvas) error {
		item = c.AddProduct(p)
		return nil
	})
	if err != nil {
		return ItemView{}, err
	}
	return viewOf(item), nil
}

// RemoveItem 从画布删除实例。实例不存在时不做任何修改，也不算错误。
func (s *Session) RemoveItem(ctx context.Context, instanceID int64) error {
	return s.mutate(ctx, "remove", func(c *canvas.Canvas) error {
		if !c.RemoveProduct(instanceID) {
			return errUnchanged
		}
		return nil
	})
}

// SetPosition 设置实例坐标。
func (s *Session) SetPosition(ctx context.Context, instanceID int64, x, y float64) error {
	return s.mutate(ctx, "position", func(c *canvas.Canvas) error {
		if !c.SetPosition(instanceID, x, y) {
			return ErrItemNotFound
		}
		return nil
	})
}

// SetWidth 设置实例显示宽度（会被裁剪到合法区间）。
func (s *Session) SetWidth(ctx context.Context, instanceID int64, width float64) error {
	return s.mutate(ctx, "width", func(c *canvas.Canvas) error {
		if !c.SetDisplayWidth(instanceID, width) {
			return ErrItemNotFound
		}
		return nil
	})
}

// SetQuantity 用用户输入设置数量，非法输入返回 canvas.ErrInvalidQuantity。
func (s *Session) SetQuantity(ctx context.Context, instanceID int64, raw string) error {
	return s.mutate(ctx, "quantity", func(c *canvas.Canvas) error {
		ok, err := c.SetQuantity(instanceID, raw)
		if err != nil {
			return err
		}
		if !ok {
			return ErrItemNotFound
		}
		return nil
	})
}

// Reorder 调整实例顺序。from == to 时不做修改；下标越界返回 ErrInvalidIndex。
func (s *Session) Reorder(ctx context.Context, from, to int) error {
	return s.mutate(ctx, "reorder", func(c *canvas.Canvas) error {
		if !c.Reorder(from, to) {
			return ErrInvalidIndex
		}
		if from == to {
			return errUnchanged
		}
		return nil
	})
}

// Delta 手势中的一次位移。
type Delta struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Drag 回放一次完整的拖拽手势，结束后保存一次。
func (s *Session) Drag(ctx context.Context, instanceID int64, kind canvas.GestureKind, deltas []Delta) error {
	return s.mutate(ctx, "drag", func(c *canvas.Canvas) error {
		g, ok := c.BeginGesture(instanceID, kind)
		if !ok {
			return ErrItemNotFound
		}
		defer g.End()
		for _, d := range deltas {
			g.Move(d.DX, d.DY)
		}
		return nil
	})
}

// Save 显式保存，没有身份时返回 persist.ErrNoIdentity；成功后通知店员。
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var key string
	var id identity.Identity
	if s.identity != nil {
		id = *s.identity
		key = id.Key()
	}
	items := s.canvas.Items()
	summary := s.agg.Summary(s.canvas)
	err := s.deps.Collections.Save(ctx, key, items)
	s.mu.Unlock()

	if err != nil {
		metrics.CollectionSavesTotal.WithLabelValues("explicit", resultLabel(err)).Inc()
		return err
	}
	metrics.CollectionSavesTotal.WithLabelValues("explicit", "success").Inc()

	if s.deps.Notifier != nil {
		notice := notify.CollectionNotice{Identity: id, Items: items, Summary: summary, SavedAt: time.Now()}
		if err := s.deps.Notifier.NotifyCollectionSaved(ctx, notice); err != nil {
			s.deps.Logger.Warn("collection notification failed", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Chat 可见的聊天记录。
func (s *Session) Chat() []advisor.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]advisor.Message(nil), s.chat...)
}

// SendChat 发送一条消息并返回顾问回复。
func (s *Session) SendChat(ctx context.Context, message string) (advisor.Message, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return advisor.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return advisor.Message{}, ErrNoIdentity
	}
	id := *s.identity
	history := append([]advisor.Message(nil), s.chat...)
	s.chat = append(s.chat, advisor.Message{Role: advisor.RoleUser, Content: message})
	s.mu.Unlock()
	s.idle.Touch()

	text := s.deps.Advisor.Reply(ctx, s.ID, id, history, message)
	reply := advisor.Message{Role: advisor.RoleModel, Content: text}

	s.mu.Lock()
	if s.identity != nil && s.identity.Key() == id.Key() {
		s.chat = append(s.chat, reply)
	}
	s.mu.Unlock()
	s.idle.Touch()
	return reply, nil
}

// onIdle 聊天空闲提醒回调，在计时器 goroutine 中执行。
func (s *Session) onIdle() {
	s.mu.Lock()
	if s.closed || s.identity == nil || len(s.chat) == 0 {
		s.mu.Unlock()
		return
	}
	id := *s.identity
	history := append([]advisor.Message(nil), s.chat...)
	s.mu.Unlock()

	text, ok := s.deps.Advisor.Nudge(s.ctx, s.ID, id, history)
	if !ok || s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.identity == nil || s.identity.Key() != id.Key() {
		return
	}
	s.chat = append(s.chat, advisor.Message{Role: advisor.RoleModel, Content: text})
}

// mutate 在锁内执行一次画布变更，成功后自动保存（有身份时）。
func (s *Session) mutate(ctx context.Context, op string, fn func(c *canvas.Canvas) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := fn(s.canvas); err != nil {
		if errors.Is(err, errUnchanged) {
			metrics.CanvasMutationsTotal.WithLabelValues(op, "noop").Inc()
			return nil
		}
		metrics.CanvasMutationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
		return err
	}
	metrics.CanvasMutationsTotal.WithLabelValues(op, "success").Inc()
	s.autosaveLocked(ctx)
	return nil
}

func (s *Session) autosaveLocked(ctx context.Context) {
	if s.identity == nil {
		return
	}
	if err := s.deps.Collections.Save(ctx, s.identity.Key(), s.canvas.Items()); err != nil {
		metrics.CollectionSavesTotal.WithLabelValues("auto", "error").Inc()
		s.deps.Logger.Warn("autosave failed", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		return
	}
	metrics.CollectionSavesTotal.WithLabelValues("auto", "success").Inc()
}

func (s *Session) snapshotLocked() Snapshot {
	items := s.canvas.Items()
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, viewOf(it))
	}
	return Snapshot{
		Items:   views,
		Summary: s.agg.Summary(s.canvas),
		Version: s.canvas.Version(),
	}
}

func viewOf(it canvas.PlacedItem) ItemView {
	return ItemView{PlacedItem: it, ImageURL: it.ImageURL(), VariantIndex: it.VariantIndex()}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, canvas.ErrInvalidQuantity), errors.Is(err, ErrInvalidIndex):
		return "invalid"
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrProductNotFound):
		return "not_found"
	case errors.Is(err, persist.ErrNoIdentity):
		return "no_identity"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
