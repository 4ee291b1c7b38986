package keygen

import (
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// Strftime renders the strftime directives in format for t. Key placeholders such as
// %{index} are copied through untouched, as are directives the formatter does not know.
func Strftime(format string, t time.Time) string {
	if !strings.Contains(format, "%") {
		return format
	}
	spans := keyPlaceholder.FindAllStringIndex(format, -1)
	if len(spans) == 0 {
		return strftime.Format(format, t)
	}

	var b strings.Builder
	b.Grow(len(format) + 16)
	last := 0
	for _, span := range spans {
		b.WriteString(strftime.Format(format[last:span[0]], t))
		b.WriteString(format[span[0]:span[1]])
		last = span[1]
	}
	b.WriteString(strftime.Format(format[last:], t))
	return b.String()
}

// TimeSliceFormat maps a chunk time-bucket width to the default time_slice layout.
func TimeSliceFormat(timekey time.Duration) string {
	switch {
	case timekey < time.Minute:
		return "%Y%m%d-%H_%M_%S"
	case timekey < time.Hour:
		return "%Y%m%d-%H_%M"
	case timekey < 24*time.Hour:
		return "%Y%m%d-%H"
	default:
		return "%Y%m%d"
	}
}
