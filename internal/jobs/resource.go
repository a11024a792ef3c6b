package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mkang/shadowclip/pkg/log"
)

// errResourcesExhausted marks a resource wait that ran out of patience.
var errResourcesExhausted = errors.New("resources exhausted")

// ResourceMonitor gates primitive launches on free disk and memory. Running
// encodes are never preempted; the monitor only delays the next launch.
type ResourceMonitor struct {
	scratchRoot      string
	minFreeBytes     uint64
	maxMemoryPercent int
	pollInterval     time.Duration
	maxWait          time.Duration
	meminfoPath      string
}

// NewResourceMonitor watches the filesystem holding scratchRoot.
func NewResourceMonitor(scratchRoot string, minFreeGB, maxMemoryPercent int) *ResourceMonitor {
	if minFreeGB <= 0 {
		minFreeGB = 5
	}
	if maxMemoryPercent <= 0 || maxMemoryPercent > 100 {
		maxMemoryPercent = 85
	}
	return &ResourceMonitor{
		scratchRoot:      scratchRoot,
		minFreeBytes:     uint64(minFreeGB) << 30,
		maxMemoryPercent: maxMemoryPercent,
		pollInterval:     5 * time.Second,
		maxWait:          60 * time.Second,
		meminfoPath:      "/proc/meminfo",
	}
}

// Check returns nil when both thresholds are satisfied.
func (m *ResourceMonitor) Check() error {
	free, err := m.freeDisk()
	if err != nil {
		// An unreadable filesystem is not a reason to stall jobs.
		log.Warn("free-disk check failed: %v", err)
	} else if free < m.minFreeBytes {
		return fmt.Errorf("%w: %.1fGB free on scratch, need %.1fGB",
			errResourcesExhausted, float64(free)/(1<<30), float64(m.minFreeBytes)/(1<<30))
	}

	used, err := m.memoryUsedPercent()
	if err != nil {
		log.Warn("memory check failed: %v", err)
		return nil
	}
	if used > m.maxMemoryPercent {
		return fmt.Errorf("%w: memory %d%% used, cap is %d%%", errResourcesExhausted, used, m.maxMemoryPercent)
	}
	return nil
}

// Wait blocks until resources free up, the context ends, or the maximum
// wait elapses.
func (m *ResourceMonitor) Wait(ctx context.Context) error {
	deadline := time.Now().Add(m.maxWait)
	for {
		err := m.Check()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		log.Warn("delaying next primitive: %v", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *ResourceMonitor) freeDisk() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(m.scratchRoot, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", m.scratchRoot, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// memoryUsedPercent reads MemTotal/MemAvailable from /proc/meminfo.
func (m *ResourceMonitor) memoryUsedPercent() (int, error) {
	data, err := os.ReadFile(m.meminfoPath)
	if err != nil {
		return 0, err
	}

	var total, available uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = value
		case "MemAvailable:":
			available = value
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("MemTotal missing from %s", m.meminfoPath)
	}
	return int((total - available) * 100 / total), nil
}
