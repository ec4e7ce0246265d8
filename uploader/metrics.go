package uploader

import (
	"time"

	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transferTime  *kitprometheus.Histogram
	transferCount *kitprometheus.Counter
)

func init() {
	transferTime = kitprometheus.NewHistogramFrom(prometheus.HistogramOpts{
		Namespace: "vdisk",
		Subsystem: "uploader",
		Name:      "transfer_seconds",
		Help:      "chunk transfer time cost.",
	}, []string{"image", "result"})

	transferCount = kitprometheus.NewCounterFrom(prometheus.CounterOpts{
		Namespace: "vdisk",
		Subsystem: "uploader",
		Name:      "transfers",
		Help:      "chunk transfer count.",
	}, []string{"image", "result"})
}

func observe(image, result string, elapsed time.Duration) {
	labels := []string{
		"image", image,
		"result", result,
	}
	transferTime.With(labels...).Observe(elapsed.Seconds())
	transferCount.With(labels...).Add(1)
}
