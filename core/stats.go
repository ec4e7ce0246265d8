package core

import (
	"sync"
	"sync/atomic"

	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	chunksModifiedGauge *kitprometheus.Gauge
	chunksPendingGauge  *kitprometheus.Gauge
)

func init() {
	chunksModifiedGauge = kitprometheus.NewGaugeFrom(prometheus.GaugeOpts{
		Namespace: "vdisk",
		Subsystem: "cache",
		Name:      "chunks_modified",
		Help:      "chunks whose local content is authoritative.",
	}, []string{"image"})

	chunksPendingGauge = kitprometheus.NewGaugeFrom(prometheus.GaugeOpts{
		Namespace: "vdisk",
		Subsystem: "cache",
		Name:      "chunks_modified_not_uploaded",
		Help:      "modified chunks not yet mirrored to the chunk pool.",
	}, []string{"image"})
}

// Counter is an atomic statistics counter mirrored to a prometheus gauge.
type Counter struct {
	v     int64
	gauge *kitprometheus.Gauge
	image string

	// orders gauge updates like the updates of v
	mu sync.Mutex
}

func (c *Counter) Add(delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := atomic.AddInt64(&c.v, delta)
	if c.gauge != nil {
		c.gauge.With("image", c.image).Set(float64(n))
	}
	return n
}

func (c *Counter) Increment(n int64) int64 { return c.Add(n) }
func (c *Counter) Decrement(n int64) int64 { return c.Add(-n) }

func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.v)
}

// Stats is the statistics sink of one image.
type Stats struct {
	ChunksModified            Counter
	ChunksModifiedNotUploaded Counter
}

func NewStats(image string) *Stats {
	s := &Stats{}
	s.ChunksModified.gauge, s.ChunksModified.image = chunksModifiedGauge, image
	s.ChunksModifiedNotUploaded.gauge, s.ChunksModifiedNotUploaded.image = chunksPendingGauge, image
	s.ChunksModified.Add(0)
	s.ChunksModifiedNotUploaded.Add(0)
	return s
}
