package core

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// 0 = disabled, 1 = enabled
var debugEnabled int32

func init() {
	if v := os.Getenv(ENV_DEBUG); v != "" && v != "0" {
		atomic.StoreInt32(&debugEnabled, 1)
	}
}

// SetDebugEnabled switches debug tracing, e.g. from the -debug flag.
func SetDebugEnabled(enabled bool) {
	if enabled {
		atomic.StoreInt32(&debugEnabled, 1)
	} else {
		atomic.StoreInt32(&debugEnabled, 0)
	}
}

func IsDebugEnabled() bool {
	return atomic.LoadInt32(&debugEnabled) == 1
}

// DebugLog prints a timestamped trace line when debug mode is on.
func DebugLog(format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Printf("[%s] [VDISK DEBUG] %s\n", timestamp, fmt.Sprintf(format, args...))
}
