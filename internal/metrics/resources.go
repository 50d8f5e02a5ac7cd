package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSample is one CPU/memory reading of the server process.
type ResourceSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig holds configuration for server resource sampling.
type ResourceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ResourceCollector samples the resource usage of the server process while it
// has a known PID and keeps a bounded history of readings.
type ResourceCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu       sync.RWMutex
	samples  []ResourceSample // circular buffer
	startIdx int
	count    int
	lastPID  int32

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewResourceCollector creates a collector; zero values take defaults
// (5s interval, 100 samples).
func NewResourceCollector(cfg ResourceConfig) *ResourceCollector {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      name,
			Help:      help,
		}, []string{"pid"})
	}
	return &ResourceCollector{
		enabled:    cfg.Enabled,
		interval:   interval,
		maxHistory: maxHistory,
		samples:    make([]ResourceSample, maxHistory),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the server process."),
		memoryMB:   gauge("memory_mb", "Resident memory of the server process in MB."),
		numThreads: gauge("num_threads", "Number of threads of the server process."),
		numFDs:     gauge("num_fds", "Open file descriptors of the server process (Unix only)."),
	}
}

// RegisterMetrics registers the resource gauges with the provided registerer.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (c *ResourceCollector) IsEnabled() bool { return c.enabled }

// Start samples pid() every interval until ctx is done or Stop is called.
// A pid of 0 means the server is not running; its gauges are cleared.
func (c *ResourceCollector) Start(ctx context.Context, pid func() int) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if _, err := c.Collect(ctx, pid()); err != nil {
					slog.Debug("resource sampling failed", "error", err)
				}
			}
		}
	}()
}

// Stop stops the sampling loop.
func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of pid and appends it to the history.
func (c *ResourceCollector) Collect(ctx context.Context, pid int) (ResourceSample, error) {
	if pid <= 0 {
		c.forget()
		return ResourceSample{}, fmt.Errorf("no server process")
	}
	s, err := sample(ctx, int32(pid))
	if err != nil {
		c.forget()
		return ResourceSample{}, err
	}

	c.mu.Lock()
	if c.lastPID != 0 && c.lastPID != s.PID {
		c.deleteGaugesLocked(c.lastPID)
	}
	c.lastPID = s.PID
	if c.count < c.maxHistory {
		c.samples[(c.startIdx+c.count)%c.maxHistory] = s
		c.count++
	} else {
		c.samples[c.startIdx] = s
		c.startIdx = (c.startIdx + 1) % c.maxHistory
	}
	c.mu.Unlock()

	label := fmt.Sprint(s.PID)
	c.cpuPercent.WithLabelValues(label).Set(s.CPUPercent)
	c.memoryMB.WithLabelValues(label).Set(s.MemoryMB)
	c.numThreads.WithLabelValues(label).Set(float64(s.NumThreads))
	if runtime.GOOS != "windows" && s.NumFDs > 0 {
		c.numFDs.WithLabelValues(label).Set(float64(s.NumFDs))
	}
	return s, nil
}

// Latest returns the most recent sample.
func (c *ResourceCollector) Latest() (ResourceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.count == 0 {
		return ResourceSample{}, false
	}
	return c.samples[(c.startIdx+c.count-1)%c.maxHistory], true
}

// History returns the retained samples, oldest first.
func (c *ResourceCollector) History() []ResourceSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResourceSample, 0, c.count)
	for i := 0; i < c.count; i++ {
		out = append(out, c.samples[(c.startIdx+i)%c.maxHistory])
	}
	return out
}

func (c *ResourceCollector) forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPID != 0 {
		c.deleteGaugesLocked(c.lastPID)
		c.lastPID = 0
	}
}

func (c *ResourceCollector) deleteGaugesLocked(pid int32) {
	label := fmt.Sprint(pid)
	c.cpuPercent.DeleteLabelValues(label)
	c.memoryMB.DeleteLabelValues(label)
	c.numThreads.DeleteLabelValues(label)
	c.numFDs.DeleteLabelValues(label)
}

func sample(ctx context.Context, pid int32) (ResourceSample, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ResourceSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ResourceSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	// CPU percent needs a previous reading for accuracy; 0 when unavailable
	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpuPercent = 0
	}
	numThreads, err := proc.NumThreadsWithContext(ctx)
	if err != nil {
		numThreads = 0
	}
	s := ResourceSample{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDsWithContext(ctx); err == nil {
			s.NumFDs = n
		}
	}
	return s, nil
}
