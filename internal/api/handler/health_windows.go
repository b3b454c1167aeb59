//go:build windows

package handler

// getDiskStats is not implemented on Windows; stats report zeroes.
func getDiskStats(path string) (total, free, used int64, usedPct float64) {
	return 0, 0, 0, 0
}

func getCPUUsage() float64 {
	return 0
}
