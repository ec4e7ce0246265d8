package main

import (
	"github.com/gin-gonic/gin"
	"github.com/gotomicro/ego"
	"github.com/gotomicro/ego/core/elog"
	"github.com/gotomicro/ego/server/egin"

	"github.com/orcastor/vdisk/core"
	"github.com/orcastor/vdisk/rpc"
	"github.com/orcastor/vdisk/rpc/middleware"
)

// EGO_DEBUG=true VDISK_POOL_DATA=/opt/vdisk_pool VDISK_SECRET=xxxxxxxx go run ./rpc/cmd --config=config.toml
func main() {
	if core.VDISK_POOL_DATA == "" || middleware.VDISK_SECRET == "" {
		elog.Panic("startup", elog.String("err", "VDISK_POOL_DATA and VDISK_SECRET are required"))
	}
	ps, err := rpc.NewPoolServer(core.VDISK_POOL_DATA)
	if err != nil {
		elog.Panic("startup", elog.Any("err", err))
	}
	defer ps.Close()

	if err := ego.New().Serve(func() *egin.Component {
		server := egin.Load("server.http").Build()

		server.Use(middleware.Metrics())
		server.Use(middleware.JWT())

		server.GET("/hello", func(ctx *gin.Context) {
			ctx.JSON(200, "Hello vdisk pool")
		})
		ps.Register(server.Group("/api"))
		return server
	}()).Run(); err != nil {
		elog.Panic("startup", elog.Any("err", err))
	}
}
