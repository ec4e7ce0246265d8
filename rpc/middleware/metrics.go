package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// route pattern, not the raw path, to keep label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RequestTime(c.Request.Method, path, time.Since(start).Seconds())
		RequestCount(c.Request.Method, path, c.Writer.Status())
		if n := c.Writer.Size(); n > 0 {
			ResponseBytes(c.Request.Method, path, n)
		}
	}
}

var (
	requestTime   *kitprometheus.Histogram
	requestCount  *kitprometheus.Counter
	responseBytes *kitprometheus.Counter
)

func init() {
	requestTime = kitprometheus.NewHistogramFrom(prometheus.HistogramOpts{
		Namespace: "vdisk",
		Subsystem: "pool",
		Name:      "request_time",
		Help:      "pool request time cost.",
	}, []string{"method", "path"})

	requestCount = kitprometheus.NewCounterFrom(prometheus.CounterOpts{
		Namespace: "vdisk",
		Subsystem: "pool",
		Name:      "request_count",
		Help:      "pool request count.",
	}, []string{"method", "path", "code"})

	responseBytes = kitprometheus.NewCounterFrom(prometheus.CounterOpts{
		Namespace: "vdisk",
		Subsystem: "pool",
		Name:      "response_bytes",
		Help:      "pool response body bytes.",
	}, []string{"method", "path"})
}

func RequestTime(method, path string, tm float64) {
	requestTime.With([]string{
		"method", method,
		"path", path,
	}...).Observe(tm)
}

func RequestCount(method, path string, code int) {
	requestCount.With([]string{
		"method", method,
		"path", path,
		"code", strconv.FormatInt(int64(code), 10),
	}...).Add(1)
}

func ResponseBytes(method, path string, n int) {
	responseBytes.With([]string{
		"method", method,
		"path", path,
	}...).Add(float64(n))
}
