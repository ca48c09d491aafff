package middleware

import (
	"attendance_console/internal/service"
	"attendance_console/internal/util"
	"net/http"

	"github.com/gin-gonic/gin"
)

const sessionKey = "attendance_session"

// SessionMiddleware 根据 cookie 找到点名会话，没有时新建并下发 cookie
func SessionMiddleware(sessions *service.SessionService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(cookieName)

		session, id, created := sessions.Acquire(id)
		if created {
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     cookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		c.Set(util.SessionContextKey, id)
		c.Set(sessionKey, session)
		c.Next()
	}
}

// GetSession 取出当前请求的会话
func GetSession(c *gin.Context) *service.AttendanceSession {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	session, _ := v.(*service.AttendanceSession)
	return session
}
