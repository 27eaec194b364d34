package interceptors

import "github.com/gin-gonic/gin"

// Fail aborts the request with the error envelope {ok:false, error:msg}.
func Fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": msg})
}

// FailWith aborts with the error envelope plus extra fields (e.g. attempts_left).
func FailWith(c *gin.Context, status int, msg string, extra gin.H) {
	body := gin.H{"ok": false, "error": msg}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}
