package container

import (
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-units"
)

// formatStats renders a stats sample the way `docker stats` does:
// "12.34%" and "120.5MiB / 8GiB".
func formatStats(s *container.StatsResponse) Stats {
	return Stats{
		CPU:    fmt.Sprintf("%.2f%%", cpuPercent(s)),
		Memory: units.BytesSize(float64(memoryUsage(&s.MemoryStats))) + " / " + units.BytesSize(float64(s.MemoryStats.Limit)),
	}
}

func cpuPercent(s *container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}

	online := float64(s.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if online == 0 {
		online = 1
	}
	return cpuDelta / systemDelta * online * 100
}

// memoryUsage excludes reclaimable page cache: inactive_file on cgroup v2,
// total_inactive_file on cgroup v1.
func memoryUsage(m *container.MemoryStats) uint64 {
	for _, key := range []string{"inactive_file", "total_inactive_file"} {
		if v, ok := m.Stats[key]; ok && v < m.Usage {
			return m.Usage - v
		}
	}
	return m.Usage
}
