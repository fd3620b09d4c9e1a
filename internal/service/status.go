package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/depthflow/internal/cache"
	"github.com/kiranshivaraju/depthflow/pkg/models"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const cpuSampleWindow = 200 * time.Millisecond

// SystemStats is host load as seen by the API process. Fields are nil when sampling failed.
type SystemStats struct {
	CPUPercent    *float64 `json:"cpu_percent"`
	MemoryPercent *float64 `json:"memory_percent"`
	DiskPercent   *float64 `json:"disk_percent,omitempty"`
}

// Status summarizes queue depth, render load and host resources.
type Status struct {
	QueueLength        int              `json:"queue_length"`
	ActiveTasks        int              `json:"active_tasks"`
	MaxConcurrentTasks int              `json:"max_concurrent_tasks"`
	Jobs               models.JobCounts `json:"jobs"`
	Renderers          map[string]bool  `json:"renderers"`
	System             SystemStats      `json:"system"`
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	st := &Status{
		QueueLength:        counts.Pending,
		ActiveTasks:        counts.Running,
		MaxConcurrentTasks: s.cfg.MaxConcurrent,
		Jobs:               counts,
		Renderers:          map[string]bool{},
	}

	// Leases are the live view; the running count lags when a worker dies.
	if s.cache != nil {
		n, err := s.cache.ActiveSlots(ctx, cache.RenderPool)
		if err != nil {
			slog.Warn("could not read render slots", "error", err)
		} else {
			st.ActiveTasks = n
		}
	}

	if s.renderers != nil {
		st.Renderers = s.renderers.Availability(ctx)
	}
	st.System = s.hostStats(ctx, s.cfg.StorageDir)
	return st, nil
}

func sampleHost(ctx context.Context, dir string) SystemStats {
	var st SystemStats

	if pct, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false); err == nil && len(pct) > 0 {
		st.CPUPercent = &pct[0]
	} else if err != nil {
		slog.Debug("cpu sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		st.MemoryPercent = &vm.UsedPercent
	} else {
		slog.Debug("memory sample failed", "error", err)
	}

	if dir != "" {
		if du, err := disk.UsageWithContext(ctx, dir); err == nil {
			st.DiskPercent = &du.UsedPercent
		}
	}
	return st
}
