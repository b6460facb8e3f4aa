package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"quoteflow/internal/metrics"
	"quoteflow/logger"
)

// pipelineState is the quote pipeline as seen through the latest metrics.
type pipelineState struct {
	QuotesProcessed float64        `json:"quotes_processed"`
	QuotesWritten   float64        `json:"quotes_written"`
	QuotesPerSecond float64        `json:"quotes_per_second"`
	RawBuffered     float64        `json:"raw_buffered"`
	NormBuffered    float64        `json:"norm_buffered"`
	CacheHitRatio   float64        `json:"cache_hit_ratio"`
	CacheEntries    map[string]int `json:"cache_entries"`
}

// resourceSnapshot pairs host utilisation with the pipeline state at the
// same instant.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	DiskUsed    uint64    `json:"disk_used"`
	DiskTotal   uint64    `json:"disk_total"`
	DiskPct     float64   `json:"disk_percent"`

	Counters map[string]int64 `json:"counters"`
	Pipeline pipelineState    `json:"pipeline"`
}

type resourceSampler struct {
	mu       sync.RWMutex
	items    []resourceSnapshot
	limit    int
	interval time.Duration
	diskPath string
	pipeline func() pipelineState

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
	countersFn    = logger.Counters
)

// newResourceSampler samples every interval. pipeline may be nil, in which
// case only host figures and counters are recorded.
func newResourceSampler(limit int, interval time.Duration, diskPath string, pipeline func() pipelineState, log *logger.Log) *resourceSampler {
	if limit <= 0 {
		limit = 200
	}
	if interval <= 0 {
		interval = time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &resourceSampler{
		limit:    limit,
		interval: interval,
		diskPath: diskPath,
		pipeline: pipeline,
		log:      log,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil {
		return
	}
	if s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx)
	}()
}

func (s *resourceSampler) stop() {
	if s == nil {
		return
	}
	if cancel := s.cancel; cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resourceSnapshot, len(s.items))
	copy(out, s.items)
	return out
}

// append stores snap and fills its quote rate from the previous sample.
func (s *resourceSampler) append(snap resourceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.items); n > 0 {
		prev := s.items[n-1]
		elapsed := snap.Timestamp.Sub(prev.Timestamp).Seconds()
		delta := snap.Pipeline.QuotesProcessed - prev.Pipeline.QuotesProcessed
		// processor counters restart with the process
		if elapsed > 0 && delta >= 0 {
			snap.Pipeline.QuotesPerSecond = delta / elapsed
		}
	}
	s.items = append(s.items, snap)
	if len(s.items) > s.limit {
		s.items = append([]resourceSnapshot(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *resourceSampler) run(ctx context.Context) {
	defer s.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		snap, ok := s.sample(ctx)
		if ok {
			s.append(snap)
		}
	}
}

func (s *resourceSampler) sample(ctx context.Context) (resourceSnapshot, bool) {
	log := s.log.WithComponent("resource_sampler")

	cpuSamples, err := cpuPercentFn(ctx, s.interval)
	if err != nil {
		log.WithError(err).Debug("failed to sample cpu usage")
		return resourceSnapshot{}, false
	}
	memStats, err := memoryStatsFn(ctx)
	if err != nil {
		log.WithError(err).Debug("failed to sample memory usage")
		return resourceSnapshot{}, false
	}
	diskStats, err := diskUsageFn(ctx, s.diskPath)
	if err != nil {
		log.WithError(err).Debug("failed to sample disk usage")
		return resourceSnapshot{}, false
	}

	counters := countersFn()
	snap := resourceSnapshot{
		Timestamp:   time.Now(),
		CPUPercent:  firstSample(cpuSamples),
		MemoryUsed:  memStats.Used,
		MemoryTotal: memStats.Total,
		MemoryPct:   memStats.UsedPercent,
		DiskUsed:    diskStats.Used,
		DiskTotal:   diskStats.Total,
		DiskPct:     diskStats.UsedPercent,
		Counters:    counters,
	}
	if s.pipeline != nil {
		snap.Pipeline = s.pipeline()
	}
	snap.Pipeline.CacheHitRatio = hitRatio(counters["cache_hits"], counters["cache_misses"])
	return snap, true
}

// pipelineFromMetrics reads the processor, writer and buffer gauges out of
// the latest metric per series. Writer totals are summed across writers.
func pipelineFromMetrics(latest map[string]metrics.Metric, caches map[string]int) pipelineState {
	state := pipelineState{CacheEntries: caches}
	for _, m := range latest {
		switch m.Name {
		case "quotes_processed":
			state.QuotesProcessed += m.Value
		case "quotes_written":
			state.QuotesWritten += m.Value
		case "quote_raw_buffer_length":
			state.RawBuffered = m.Value
		case "quote_norm_buffer_length":
			state.NormBuffered = m.Value
		}
	}
	return state
}

func hitRatio(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func firstSample(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return samples[0]
}
