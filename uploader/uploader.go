// Package uploader pushes modified chunks that are not uploaded yet to the
// chunk pool, either once (checkin) or continuously in the background.
package uploader

import (
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/orcastor/vdisk/cache"
	"github.com/orcastor/vdisk/core"
	"golang.org/x/time/rate"
)

// PassResult summarizes one walk over the cache root.
type PassResult struct {
	Scanned  int
	Uploaded int
	Skipped  int
	Failed   int
	Bytes    int64
	Elapsed  time.Duration
}

type Synchronizer struct {
	img  *cache.Image
	pool core.ChunkPool

	limiter       *rate.Limiter // nil means unlimited
	interval      time.Duration
	window        *core.CronSchedule
	requeueFailed bool

	now func() time.Time
}

func New(img *cache.Image, pool core.ChunkPool, cfg *core.Config) *Synchronizer {
	s := &Synchronizer{
		img:           img,
		pool:          pool,
		interval:      cfg.RescanInterval(),
		requeueFailed: cfg.RequeueFailed,
		now:           time.Now,
	}
	if s.interval <= 0 {
		s.interval = core.DefaultRescanInterval * time.Second
	}
	if cfg.UploadRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.UploadRate), int(img.ChunkSize()))
	}
	if cfg.UploadWindow != "" {
		// already checked by Config.Validate
		s.window, _ = core.ParseCronSchedule(cfg.UploadWindow)
	}
	return s
}

// RunOnce makes a single pass without throttling, the checkin mode.
func (s *Synchronizer) RunOnce(c core.Ctx) (PassResult, error) {
	return s.pass(c, false)
}

// Run keeps passing over the cache until c is cancelled. Between passes it
// sleeps for the rescan interval or until a chunk becomes pending.
func (s *Synchronizer) Run(c core.Ctx) error {
	for {
		if s.window == nil || s.window.ShouldRun(s.now()) {
			res, err := s.pass(c, true)
			if c.Err() != nil {
				return nil
			}
			if err != nil {
				elog.Error("upload pass", elog.String("image", s.img.Name()), elog.FieldErr(err))
			} else if res.Uploaded > 0 || res.Failed > 0 {
				elog.Info("upload pass",
					elog.String("image", s.img.Name()),
					elog.Int("uploaded", res.Uploaded),
					elog.Int("failed", res.Failed),
					elog.Int64("bytes", res.Bytes),
					elog.Duration("elapsed", res.Elapsed))
			}
		}

		select {
		case <-c.Done():
			return nil
		case <-s.img.Pending():
		case <-time.After(s.interval):
		}
	}
}

func (s *Synchronizer) pass(c core.Ctx, throttle bool) (PassResult, error) {
	var res PassResult
	start := time.Now()
	err := cache.WalkChunks(s.img.Root(), func(i uint64) error {
		if err := c.Err(); err != nil {
			return err
		}
		res.Scanned++
		return s.upload(c, i, &res, throttle)
	})
	res.Elapsed = time.Since(start)
	return res, err
}

func (s *Synchronizer) upload(c core.Ctx, i uint64, res *PassResult, throttle bool) error {
	data, ok, err := s.img.BeginUpload(i)
	if err != nil {
		res.Failed++
		elog.Error("claim chunk", elog.String("image", s.img.Name()), elog.Int64("chunk", int64(i)), elog.FieldErr(err))
		return nil
	}
	if !ok {
		res.Skipped++
		return nil
	}

	start := time.Now()
	err = s.pool.PutChunk(c, s.img.Name(), i, data)
	elapsed := time.Since(start)

	switch {
	case err != nil && c.Err() != nil:
		// shutting down, leave the chunk for the next mount
		if aerr := s.img.AbortUpload(i); aerr != nil {
			elog.Error("abort upload", elog.Int64("chunk", int64(i)), elog.FieldErr(aerr))
		}
		return c.Err()
	case err != nil:
		res.Failed++
		observe(s.img.Name(), "error", elapsed)
		elog.Error("upload chunk",
			elog.String("image", s.img.Name()),
			elog.Int64("chunk", int64(i)),
			elog.Duration("elapsed", elapsed),
			elog.FieldErr(err))
		if s.requeueFailed {
			err = s.img.AbortUpload(i)
		} else {
			err = s.img.FinishUpload(i)
		}
	default:
		res.Uploaded++
		res.Bytes += int64(len(data))
		observe(s.img.Name(), "ok", elapsed)
		core.DebugLog("[Uploader] chunk %d of %s uploaded, size=%d, elapsed=%v", i, s.img.Name(), len(data), elapsed)
		err = s.img.FinishUpload(i)
	}
	if err != nil {
		elog.Error("finish upload", elog.Int64("chunk", int64(i)), elog.FieldErr(err))
	}

	if throttle {
		return s.throttle(c, len(data))
	}
	return nil
}

// throttle charges n transferred bytes to the rate limiter and sleeps off
// whatever the transfer itself did not already cover.
func (s *Synchronizer) throttle(c core.Ctx, n int) error {
	if s.limiter == nil || n == 0 {
		return nil
	}
	r := s.limiter.ReserveN(time.Now(), n)
	if !r.OK() {
		return nil
	}
	d := r.Delay()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.Done():
		r.Cancel()
		return c.Err()
	case <-t.C:
		return nil
	}
}
