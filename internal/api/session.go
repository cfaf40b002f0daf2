package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"kimhanh/internal/advisor"
	"kimhanh/internal/api/middleware"
	"kimhanh/internal/canvas"
	"kimhanh/internal/export"
	"kimhanh/internal/identity"
	"kimhanh/internal/persist"
	"kimhanh/internal/session"

	"github.com/gin-gonic/gin"
)

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type addItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

type positionRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type widthRequest struct {
	Width *float64 `json:"width"`
}

// quantityRequest 数量按原始输入处理，接受 "5" 或 5。
type quantityRequest struct {
	Quantity json.RawMessage `json:"quantity"`
}

type reorderRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

type dragRequest struct {
	Kind   canvas.GestureKind `json:"kind" binding:"required"`
	Deltas []session.Delta    `json:"deltas"`
}

type chatRequest struct {
	Message string `json:"message"`
}

// handleCreateSession 创建会话并签发令牌。
//
// POST /sessions
func (s *Server) handleCreateSession(c *gin.Context) {
	sess := s.sessions.Create()
	token, err := middleware.IssueToken(s.cfg.App.JWTSecret, sess.ID, tokenTTL)
	if err != nil {
		s.sessions.Remove(sess.ID)
		s.logger.Error("issue session token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create session failed"})
		return
	}
	c.JSON(http.StatusCreated, createSessionResponse{SessionID: sess.ID, Token: token})
}

// handleCloseSession 主动结束会话。
func (s *Server) handleCloseSession(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	s.sessions.Remove(sess.ID)
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (s *Server) handleGetIdentity(c *gin.Context) {
	id, ok := middleware.CurrentSession(c).Identity()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"set": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"set": true, "identity": id})
}

// handleSetIdentity 提交身份信息，返回加载后的画布与聊天记录。
//
// PUT /session/identity
func (s *Server) handleSetIdentity(c *gin.Context) {
	var req identity.Identity
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := middleware.CurrentSession(c)
	snap, err := sess.SetIdentity(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	id, _ := sess.Identity()
	c.JSON(http.StatusOK, gin.H{
		"identity": id,
		"canvas":   snap,
		"chat":     chatOrEmpty(sess.Chat()),
	})
}

func (s *Server) handleCanvas(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.CurrentSession(c).Snapshot())
}

func (s *Server) handleSummary(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.CurrentSession(c).Summary())
}

// handleAddItem 把商品放到画布上。
//
// POST /session/items
func (s *Server) handleAddItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := middleware.CurrentSession(c)
	item, err := sess.AddProduct(c.Request.Context(), req.ProductID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item, "summary": sess.Summary()})
}

func (s *Server) handleRemoveItem(c *gin.Context) {
	id, ok := instanceParam(c)
	if !ok {
		return
	}
	s.respondCanvas(c, middleware.CurrentSession(c).RemoveItem(c.Request.Context(), id))
}

func (s *Server) handleSetPosition(c *gin.Context) {
	id, ok := instanceParam(c)
	if !ok {
		return
	}
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.X == nil || req.Y == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "x and y are required"})
		return
	}
	s.respondCanvas(c, middleware.CurrentSession(c).SetPosition(c.Request.Context(), id, *req.X, *req.Y))
}

func (s *Server) handleSetWidth(c *gin.Context) {
	id, ok := instanceParam(c)
	if !ok {
		return
	}
	var req widthRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Width == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "width is required"})
		return
	}
	s.respondCanvas(c, middleware.CurrentSession(c).SetWidth(c.Request.Context(), id, *req.Width))
}

// handleSetQuantity 修改数量，非正整数返回 400 且画布不变。
//
// PATCH /session/items/:instanceId/quantity
func (s *Server) handleSetQuantity(c *gin.Context) {
	id, ok := instanceParam(c)
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.respondCanvas(c, middleware.CurrentSession(c).SetQuantity(c.Request.Context(), id, rawQuantity(req.Quantity)))
}

func (s *Server) handleReorder(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.From == nil || req.To == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}
	s.respondCanvas(c, middleware.CurrentSession(c).Reorder(c.Request.Context(), *req.From, *req.To))
}

// handleDrag 回放一次拖拽手势（移动或缩放）。
//
// POST /session/items/:instanceId/drag
func (s *Server) handleDrag(c *gin.Context) {
	id, ok := instanceParam(c)
	if !ok {
		return
	}
	var req dragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind != canvas.GestureMove && req.Kind != canvas.GestureResize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be move or resize"})
		return
	}
	s.respondCanvas(c, middleware.CurrentSession(c).Drag(c.Request.Context(), id, req.Kind, req.Deltas))
}

// handleSave 显式保存收藏集，未提交身份时返回 409。
func (s *Server) handleSave(c *gin.Context) {
	if err := middleware.CurrentSession(c).Save(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "saved_at": time.Now()})
}

func (s *Server) handleGetChat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": chatOrEmpty(middleware.CurrentSession(c).Chat())})
}

// handleSendChat 发送消息并返回顾问回复。
//
// POST /session/chat
func (s *Server) handleSendChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := middleware.CurrentSession(c).SendChat(c.Request.Context(), req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// handleExport 把当前画布导出为 PNG 或 PDF。
//
// GET /session/export?format=png|pdf
func (s *Server) handleExport(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export not available"})
		return
	}

	sess := middleware.CurrentSession(c)
	snap := sess.Snapshot()
	doc := export.Document{Summary: snap.Summary, GeneratedAt: time.Now()}
	for _, it := range snap.Items {
		doc.Items = append(doc.Items, it.PlacedItem)
	}
	if id, ok := sess.Identity(); ok {
		doc.Customer = &id
	}

	data, err := s.exporter.Render(c.Request.Context(), doc, format)
	if err != nil {
		s.logger.Error("export failed", slog.String("session_id", sess.ID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="collection.`+string(format)+`"`)
	c.Data(http.StatusOK, format.ContentType(), data)
}

// respondCanvas 变更成功时返回最新快照。
func (s *Server) respondCanvas(c *gin.Context, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, middleware.CurrentSession(c).Snapshot())
}

// writeError 把领域错误映射为 HTTP 状态码。
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, canvas.ErrInvalidQuantity),
		errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, export.ErrUnsupportedFormat),
		isIdentityError(err):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrItemNotFound),
		errors.Is(err, session.ErrProductNotFound):
		status = http.StatusNotFound
	case errors.Is(err, persist.ErrNoIdentity),
		errors.Is(err, session.ErrNoIdentity):
		status = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		status = http.StatusGone
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.Request.URL.Path), slog.String("error", err.Error()))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func isIdentityError(err error) bool {
	for _, target := range []error{
		identity.ErrMissingName,
		identity.ErrMissingDOB,
		identity.ErrInvalidDOB,
		identity.ErrMissingPhone,
		identity.ErrPurchaseType,
		identity.ErrPhoneTooLong,
		identity.ErrNameTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func instanceParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("instanceId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return 0, false
	}
	return id, true
}

// rawQuantity 字符串取其内容，其它 JSON 值取原文（交给 canvas.ParseQuantity 校验）。
func rawQuantity(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func chatOrEmpty(msgs []advisor.Message) []advisor.Message {
	if msgs == nil {
		return []advisor.Message{}
	}
	return msgs
}
