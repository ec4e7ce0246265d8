package middleware

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/gotomicro/ego/core/elog"
	"github.com/orcastor/vdisk/core"
	"github.com/orcastor/vdisk/rpc/util"
)

var noAuthPath = map[string]bool{
	"":       true,
	"/":      true,
	"/hello": true,
}

// VDISK_SECRET is the HS256 key shared by the pool server and its clients.
var VDISK_SECRET = os.Getenv(core.ENV_POOL_SECRET)

const (
	TokenExpiredCode int32 = 599

	MOD_NAME = "vdisk"

	TokenTTL = time.Hour
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("not a token")
	ErrTokenInvalid   = errors.New("token invalid")
)

// Claims restricts a token to one image; an empty Image grants all of them.
type Claims struct {
	Image string `json:"img,omitempty"`
	jwt.StandardClaims
}

func GenerateToken(secret, image string) (string, int64, error) {
	expireTime := time.Now().Add(TokenTTL).Unix()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		image,
		jwt.StandardClaims{
			ExpiresAt: expireTime,
			Issuer:    MOD_NAME,
		},
	}).SignedString([]byte(secret))
	return token, expireTime, err
}

func ParseToken(secret, token string) (*Claims, error) {
	tokenClaims, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(secret), nil
	})

	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorMalformed != 0 {
				return nil, ErrTokenMalformed
			} else if ve.Errors&jwt.ValidationErrorExpired != 0 {
				return nil, ErrTokenExpired
			}
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	return tokenClaims.Claims.(*Claims), nil
}

func JWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		if noAuthPath[c.FullPath()] {
			c.Next()
			return
		}

		claims, err := ParseToken(VDISK_SECRET, GetToken(c))
		if err != nil {
			elog.Errorf("%+v", err)
			if err == ErrTokenExpired {
				util.AbortStatus(c, 401, int(TokenExpiredCode), "token expired")
			} else {
				util.AbortStatus(c, 401, int(TokenExpiredCode), "token error")
			}
			return
		}
		if claims.Image != "" {
			if image := c.Param("image"); image != "" && image != claims.Image {
				util.AbortStatus(c, 403, util.CODE_FORBIDDEN, string(core.ERR_AUTH_FAILED))
				return
			}
		}
		c.Set("image", claims.Image)
		c.Next()
	}
}

func GetToken(c *gin.Context) (token string) {
	token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token != "" {
		return
	}
	// get
	token = c.Query("token")
	if token != "" {
		return
	}
	// postform
	token = c.PostForm("token")
	return
}
