package u

import (
	"strconv"
	"strings"
)

// Must panics if err is not nil. Only for errors that indicate a bug.
func Must(err error) {
	if err != nil {
		panic(err)
	}
}

var sizeUnits = []struct {
	size   int64
	suffix string
}{
	{1 << 30, "GB"},
	{1 << 20, "MB"},
	{1 << 10, "kB"},
}

// FormatSize formats n bytes in a human-readable form e.g. 1.24 kB
func FormatSize(n int64) string {
	for _, unit := range sizeUnits {
		if n < unit.size {
			continue
		}
		s := strconv.FormatFloat(float64(n)/float64(unit.size), 'f', 2, 64)
		return strings.TrimSuffix(s, ".00") + " " + unit.suffix
	}
	return strconv.FormatInt(n, 10) + " bytes"
}
