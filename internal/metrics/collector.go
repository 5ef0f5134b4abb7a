// Package metrics samples process and system resource usage during a run
// and keeps the peak resident set size for the run report.
package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const mb = 1024 * 1024

// Sample is one resource snapshot
type Sample struct {
	CPUPercent        float64 // system-wide, 0-100
	ProcessCPUPercent float64 // per core, can exceed 100 on multi-core
	RSSMB             float64
	MemoryPercent     float64
	Timestamp         time.Time
}

// Summary aggregates every sample taken so far
type Summary struct {
	Samples       int     `yaml:"samples"`
	PeakRSSMB     float64 `yaml:"peak_rss_mb"`
	MaxProcessCPU float64 `yaml:"max_process_cpu_percent"`
}

// Collector samples resource usage, periodically when started
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	mu      sync.Mutex
	last    *Sample
	summary Summary
}

// NewCollector creates a collector. Intervals under one second fall back to
// thirty seconds.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{interval: interval, logger: logger, proc: proc}
}

// Start samples every interval until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log(c.Collect())
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.log(c.Collect())
		}
	}
}

// Collect takes one sample and folds it into the summary
func (c *Collector) Collect() Sample {
	s := Sample{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
			s.RSSMB = float64(info.RSS) / mb
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &s
	c.summary.Samples++
	c.summary.PeakRSSMB = max(c.summary.PeakRSSMB, s.RSSMB)
	c.summary.MaxProcessCPU = max(c.summary.MaxProcessCPU, s.ProcessCPUPercent)
	return s
}

// Last returns the most recent sample, nil before the first
func (c *Collector) Last() *Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Summary returns the aggregate of all samples
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

func (c *Collector) log(s Sample) {
	c.logger.Info("System metrics",
		zap.Float64("sys_cpu", s.CPUPercent),
		zap.Float64("proc_cpu", s.ProcessCPUPercent),
		zap.Float64("mem_pct", s.MemoryPercent),
		zap.String("rss", formatMB(s.RSSMB)),
	)
}

func formatMB(v float64) string {
	return fmt.Sprintf("%.1f MB", v)
}
