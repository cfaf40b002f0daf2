package middleware

import (
	"net/http"

	"kimhanh/internal/session"

	"github.com/gin-gonic/gin"
)

// ContextSession 上下文中保存 *session.Session 的键。
const ContextSession = "session"

// SessionMiddleware 根据令牌中的会话 ID 取出会话并刷新活动时间。
//
// 会话已因空闲被回收时返回 410，客户端需要重新创建会话。
func SessionMiddleware(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetString(ContextSessionID)
		s, ok := manager.Get(id)
		if !ok {
			c.JSON(http.StatusGone, gin.H{"error": "session expired"})
			c.Abort()
			return
		}
		c.Set(ContextSession, s)
		c.Next()
	}
}

// CurrentSession 取出 SessionMiddleware 放入的会话。
func CurrentSession(c *gin.Context) *session.Session {
	v, ok := c.Get(ContextSession)
	if !ok {
		return nil
	}
	s, _ := v.(*session.Session)
	return s
}
