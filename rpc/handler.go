// Package rpc serves a chunk pool over HTTP and provides the client the
// upload synchronizer talks to.
package rpc

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gotomicro/ego/core/elog"
	"github.com/orcastor/vdisk/core"
	"github.com/orcastor/vdisk/rpc/util"
)

const (
	HDR_CHECKSUM = "X-Vdisk-Checksum"

	// upper bound of an encoded chunk body
	maxBodySize = 64 << 20
)

// PoolServer stores chunk objects in a directory pool and records them in
// the pool index.
type PoolServer struct {
	da  *core.DefaultPoolAdapter
	idx *core.PoolIndex
}

func NewPoolServer(dataPath string) (*PoolServer, error) {
	idx, err := core.OpenPoolIndex(dataPath)
	if err != nil {
		return nil, err
	}
	return &PoolServer{da: core.NewDefaultPoolAdapter(dataPath), idx: idx}, nil
}

func (ps *PoolServer) Close() error {
	return ps.idx.Close()
}

// Register adds the pool routes to the /api group:
// PUT /api/chunks/:image/:idx - store a chunk (zstd body, checksum header)
// GET /api/chunks/:image/:idx - fetch a chunk
// GET /api/images/:image      - list the chunks held for an image
func (ps *PoolServer) Register(api *gin.RouterGroup) {
	api.PUT("/chunks/:image/:idx", ps.putChunk)
	api.GET("/chunks/:image/:idx", ps.getChunk)
	api.GET("/images/:image", ps.listImage)
}

func chunkParams(ctx *gin.Context) (string, uint64, bool) {
	image := ctx.Param("image")
	idx, err := strconv.ParseUint(ctx.Param("idx"), 10, 64)
	if !core.ValidImageName(image) || err != nil {
		util.AbortStatus(ctx, 400, util.CODE_PARAM, "bad chunk address")
		return "", 0, false
	}
	return image, idx, true
}

func (ps *PoolServer) putChunk(ctx *gin.Context) {
	image, idx, ok := chunkParams(ctx)
	if !ok {
		return
	}
	sum, err := strconv.ParseUint(ctx.GetHeader(HDR_CHECKSUM), 16, 64)
	if err != nil {
		util.AbortStatus(ctx, 400, util.CODE_PARAM, "missing "+HDR_CHECKSUM)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxBodySize))
	if err != nil {
		util.AbortStatus(ctx, 400, util.CODE_PARAM, err.Error())
		return
	}

	frame := core.NewFrame(sum, payload)
	data, err := core.DecodeChunk(frame)
	if err != nil {
		util.AbortStatus(ctx, 400, util.CODE_CHECKSUM, err.Error())
		return
	}

	c := ctx.Request.Context()
	if err := ps.da.PutFrame(c, image, idx, frame); err != nil {
		elog.Error("put chunk", elog.String("image", image), elog.Int64("idx", int64(idx)), elog.FieldErr(err))
		util.AbortStatus(ctx, 500, util.CODE_INTERNAL, err.Error())
		return
	}
	if err := ps.idx.Record(c, image, idx, int64(len(data)), sum); err != nil {
		elog.Error("record chunk", elog.String("image", image), elog.Int64("idx", int64(idx)), elog.FieldErr(err))
		util.AbortStatus(ctx, 500, util.CODE_INTERNAL, err.Error())
		return
	}
	util.Response(ctx, gin.H{
		"size": len(data),
	})
}

func (ps *PoolServer) getChunk(ctx *gin.Context) {
	image, idx, ok := chunkParams(ctx)
	if !ok {
		return
	}
	frame, err := ps.da.GetFrame(ctx.Request.Context(), image, idx)
	if err != nil {
		if errors.Is(err, core.ERR_CHUNK_NOT_FOUND) {
			util.AbortStatus(ctx, 404, util.CODE_NOT_FOUND, err.Error())
			return
		}
		util.AbortStatus(ctx, 500, util.CODE_INTERNAL, err.Error())
		return
	}
	ctx.Header(HDR_CHECKSUM, strconv.FormatUint(core.FrameChecksum(frame), 16))
	ctx.Data(200, "application/zstd", core.FramePayload(frame))
}

func (ps *PoolServer) listImage(ctx *gin.Context) {
	image := ctx.Param("image")
	if !core.ValidImageName(image) {
		util.AbortStatus(ctx, 400, util.CODE_PARAM, "bad image name")
		return
	}
	recs, err := ps.idx.List(ctx.Request.Context(), image)
	if err != nil {
		util.AbortResponse(ctx, util.CODE_INTERNAL, err.Error())
		return
	}
	util.Response(ctx, gin.H{
		"c":      len(recs),
		"chunks": recs,
	})
}
