package canvas

// GestureKind 拖拽手势类型。
type GestureKind string

const (
	GestureMove   GestureKind = "move"
	GestureResize GestureKind = "resize"
)

// Gesture 一次拖拽操作，作用范围在 BeginGesture 与 End 之间。
//
// Move 以手势开始时的状态为基准应用位移；End 之后的调用全部忽略。
type Gesture struct {
	c          *Canvas
	instanceID int64
	kind       GestureKind
	startX     float64
	startY     float64
	startWidth float64
	ended      bool
}

// BeginGesture 在指定实例上开启手势。实例不存在或类型未知时返回 false。
func (c *Canvas) BeginGesture(instanceID int64, kind GestureKind) (*Gesture, bool) {
	if kind != GestureMove && kind != GestureResize {
		return nil, false
	}
	item, ok := c.Item(instanceID)
	if !ok {
		return nil, false
	}
	return &Gesture{
		c:          c,
		instanceID: instanceID,
		kind:       kind,
		startX:     item.X,
		startY:     item.Y,
		startWidth: item.DisplayWidth,
	}, true
}

// Move 应用相对于起点的位移。resize 手势只使用 dx。
func (g *Gesture) Move(dx, dy float64) bool {
	if g == nil || g.ended {
		return false
	}
	switch g.kind {
	case GestureMove:
		return g.c.SetPosition(g.instanceID, g.startX+dx, g.startY+dy)
	case GestureResize:
		return g.c.SetDisplayWidth(g.instanceID, g.startWidth+dx)
	}
	return false
}

// End 结束手势，可重复调用。
func (g *Gesture) End() {
	if g == nil {
		return
	}
	g.ended = true
}

// Active 手势是否仍在进行中。
func (g *Gesture) Active() bool {
	return g != nil && !g.ended
}

// Kind 手势类型。
func (g *Gesture) Kind() GestureKind {
	return g.kind
}
