// Package procstats reports host-wide CPU and memory usage (the machine's
// totals, not this process's own) for the /metrics endpoint every
// trade-control-plane binary exposes, the same
// gopsutil-backed sampling the teacher's system handlers use for its
// dashboard stats.
package procstats

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one point-in-time host resource reading.
type Snapshot struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
}

// Sample reads a short (100ms) CPU window and instantaneous memory
// stats. A read failure degrades to a zeroed field rather than an
// error — /metrics must never 500 because a resource probe hiccuped.
func Sample(log zerolog.Logger) Snapshot {
	var snap Snapshot

	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read cpu percent")
	} else if len(cpuPercent) > 0 {
		snap.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read memory stats")
		return snap
	}
	snap.MemUsedPercent = memStat.UsedPercent
	snap.MemUsedBytes = memStat.Used
	return snap
}
