package util

import "github.com/gin-gonic/gin"

const (
	CODE_PARAM     = 100
	CODE_NOT_FOUND = 101
	CODE_CHECKSUM  = 102
	CODE_FORBIDDEN = 103
	CODE_INTERNAL  = 104
)

func AbortResponse(c *gin.Context, code int, msg string) {
	AbortStatus(c, 200, code, msg)
}

// AbortStatus is AbortResponse with an HTTP status, for routes whose success
// body is not the JSON envelope.
func AbortStatus(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": code,
		"msg":  msg,
	})
}

func Response(c *gin.Context, data gin.H) {
	c.AbortWithStatusJSON(200, gin.H{
		"code": 0,
		"data": data,
	})
}
