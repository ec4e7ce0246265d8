package core

import (
	"context"
	"os"
)

type Ctx context.Context

// CHUNKS_PER_DIR is the number of contiguous chunk indexes grouped under one
// shard directory of the cache root.
const CHUNKS_PER_DIR uint64 = 4096

const (
	DefaultChunkSize      = 128 * 1024
	DefaultRescanInterval = 5 // seconds
)

// Environment overrides, applied on top of the JSON configuration file.
const (
	ENV_IMAGE_NAME      = "VDISK_IMAGE_NAME"
	ENV_CHUNK_SIZE      = "VDISK_CHUNK_SIZE"
	ENV_INITIAL_SIZE    = "VDISK_INITIAL_SIZE"
	ENV_CACHE_ROOT      = "VDISK_CACHE_ROOT"
	ENV_BASE_PATH       = "VDISK_BASE_PATH"
	ENV_BASE_URL        = "VDISK_BASE_URL"
	ENV_POOL_PATH       = "VDISK_POOL_PATH"
	ENV_POOL_URL        = "VDISK_POOL_URL"
	ENV_POOL_SECRET     = "VDISK_SECRET"
	ENV_UPLOAD_RATE     = "VDISK_UPLOAD_RATE"
	ENV_CHECKIN         = "VDISK_CHECKIN"
	ENV_RESCAN_INTERVAL = "VDISK_RESCAN_INTERVAL_SEC"
	ENV_UPLOAD_WINDOW   = "VDISK_UPLOAD_WINDOW"
	ENV_FLAG_STORE      = "VDISK_FLAG_STORE"
	ENV_REQUEUE_FAILED  = "VDISK_REQUEUE_FAILED"
	ENV_DEBUG           = "VDISK_DEBUG"
)

// VDISK_POOL_DATA is where the pool server keeps chunk objects and its index.
var VDISK_POOL_DATA = os.Getenv("VDISK_POOL_DATA")

const (
	FLAG_STORE_MODE  = "mode"
	FLAG_STORE_XATTR = "xattr"
)
