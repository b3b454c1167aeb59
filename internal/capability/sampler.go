package capability

import (
	"bufio"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Tuning bounds. Concurrency is a count of interleaved export operations,
// not OS threads.
const (
	MinConcurrency = 2
	MaxConcurrency = 24

	// BaseWriteQueueLimit is the floor for the sink write-queue depth.
	BaseWriteQueueLimit = 200

	defaultConcurrency = 4

	// refreshWindow bounds sampling overhead when the writer loop polls
	// aggressively.
	refreshWindow = 600 * time.Millisecond
)

// TuningSnapshot holds the two numbers the export pipeline tunes itself by.
type TuningSnapshot struct {
	Concurrency     int
	WriteQueueLimit int
}

// Probes supplies the raw environment measurements. Each probe may fail;
// the sampler falls through to the next priority level.
type Probes struct {
	// UsedMemory returns the process/system memory currently in use, in bytes.
	UsedMemory func() (uint64, error)

	// DeviceMemory returns the total memory of the device, in bytes.
	DeviceMemory func() (uint64, error)

	// CPUCount returns the logical core count, or 0 when unknown.
	CPUCount func() int
}

// DefaultProbes reads /proc/meminfo and runtime.NumCPU. On platforms
// without /proc the memory probes fail and the sampler falls back to
// core-count-derived values.
func DefaultProbes() Probes {
	return Probes{
		UsedMemory: func() (uint64, error) {
			total, avail, err := readMeminfo()
			if err != nil {
				return 0, err
			}
			return total - avail, nil
		},
		DeviceMemory: func() (uint64, error) {
			total, _, err := readMeminfo()
			if err != nil {
				return 0, err
			}
			return total, nil
		},
		CPUCount: runtime.NumCPU,
	}
}

// Sampler derives concurrency tuning from sampled device metrics. It is
// process-wide and safe for concurrent use; measurements are system-wide,
// not export-specific.
type Sampler struct {
	probes  Probes
	logger  *slog.Logger
	refresh time.Duration

	mu        sync.Mutex
	sampledAt time.Time
	last      TuningSnapshot
	logged    bool
}

// NewSampler creates a sampler with the given probes.
func NewSampler(probes Probes, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{probes: probes, logger: logger, refresh: refreshWindow}
}

// Sample returns the current tuning snapshot. Results are memoized for a
// short refresh window. Sample never fails: probe errors fall through to
// lower-priority derivations and ultimately to fixed defaults.
func (s *Sampler) Sample() TuningSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sampledAt.IsZero() && time.Since(s.sampledAt) < s.refresh {
		return s.last
	}

	snap := s.compute()
	s.sampledAt = time.Now()

	if !s.logged || snap != s.last {
		s.logger.Info("export tuning updated",
			"concurrency", snap.Concurrency,
			"write_queue_limit", snap.WriteQueueLimit,
		)
		s.logged = true
	}
	s.last = snap

	return snap
}

func (s *Sampler) compute() TuningSnapshot {
	var (
		used, device         uint64
		haveUsed, haveDevice bool
	)

	if s.probes.UsedMemory != nil {
		if v, err := s.probes.UsedMemory(); err == nil {
			used, haveUsed = v, true
		}
	}
	if s.probes.DeviceMemory != nil {
		if v, err := s.probes.DeviceMemory(); err == nil && v > 0 {
			device, haveDevice = v, true
		}
	}

	if haveUsed && haveDevice {
		var free uint64
		if device > used {
			free = device - used
		}
		return TuningSnapshot{
			Concurrency:     concurrencyForFree(free),
			WriteQueueLimit: queueLimitForFree(free),
		}
	}

	cores := 0
	if s.probes.CPUCount != nil {
		cores = s.probes.CPUCount()
	}

	if haveUsed {
		// Total memory unknown: start from core count and penalize
		// heavy current usage.
		c := clampConcurrency(cores * 2)
		if cap := concurrencyCapForUsed(used); c > cap {
			c = cap
		}
		return TuningSnapshot{Concurrency: c, WriteQueueLimit: BaseWriteQueueLimit}
	}

	if cores > 0 {
		return TuningSnapshot{
			Concurrency:     clampConcurrency(cores * 2),
			WriteQueueLimit: BaseWriteQueueLimit,
		}
	}

	return TuningSnapshot{Concurrency: defaultConcurrency, WriteQueueLimit: BaseWriteQueueLimit}
}

const (
	gib = 1 << 30
	mib = 1 << 20
)

// concurrencyForFree maps free memory to a concurrency level. Monotonic:
// more free memory never lowers concurrency.
func concurrencyForFree(free uint64) int {
	switch {
	case free >= 4*gib:
		return MaxConcurrency
	case free >= 2*gib:
		return 16
	case free >= 1*gib:
		return 8
	case free >= 512*mib:
		return 4
	default:
		return MinConcurrency
	}
}

// queueLimitForFree maps free memory to a write-queue depth limit,
// clamped upward from the base value.
func queueLimitForFree(free uint64) int {
	switch {
	case free >= 4*gib:
		return 4 * BaseWriteQueueLimit
	case free >= 2*gib:
		return 2 * BaseWriteQueueLimit
	default:
		return BaseWriteQueueLimit
	}
}

// concurrencyCapForUsed caps concurrency downward by current usage bands
// when total memory is unknown.
func concurrencyCapForUsed(used uint64) int {
	switch {
	case used >= 2*gib:
		return 4
	case used >= 1*gib:
		return 8
	case used >= 512*mib:
		return 16
	default:
		return MaxConcurrency
	}
}

func clampConcurrency(c int) int {
	if c < MinConcurrency {
		return MinConcurrency
	}
	if c > MaxConcurrency {
		return MaxConcurrency
	}
	return c
}

// readMeminfo returns total and available memory in bytes from /proc/meminfo.
func readMeminfo() (total, available uint64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, perr := strconv.ParseUint(fields[1], 10, 64)
		if perr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			available = kb * 1024
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return total, available, nil
}
