package zipper

import (
	"fmt"
	"strings"
)

// defaultArchiveBase is used when a title sanitizes down to nothing.
const defaultArchiveBase = "photos"

// ZipFileName turns a user-supplied title into a safe archive file name.
// Characters illegal on common filesystems become underscores, any
// pre-existing .zip extension is stripped, and part numbers greater than
// zero append a -part{N} suffix. Pure and total: never fails.
func ZipFileName(title string, part int) string {
	base := sanitizeBase(title)
	if base == "" {
		base = defaultArchiveBase
	}
	if part > 0 {
		base = fmt.Sprintf("%s-part%d", base, part)
	}
	return base + ".zip"
}

func sanitizeBase(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	base := strings.TrimSpace(b.String())
	if n := len(base); n >= 4 && strings.EqualFold(base[n-4:], ".zip") {
		base = strings.TrimSpace(base[:n-4])
	}
	return base
}
