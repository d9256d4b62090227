package quality

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Status line texts for the non-measurement states.
const (
	TextOffline      = "Offline"
	TextCaptive      = "Captive connection?"
	TextTesting      = "testing network..."
	TextInitializing = "initializing connection..."
)

// FormatDisplay maps a connectivity state and an optional sample to the
// status line. It has no side effects and never panics on unknown states.
func FormatDisplay(state ConnectivityState, sample *SpeedSample) string {
	switch state {
	case StateUnsatisfied:
		return TextOffline
	case StateRequiresConnection:
		return TextCaptive
	case StateSatisfied:
		if sample == nil {
			return TextTesting
		}
		return FormatSample(*sample)
	case StateUnknown:
		return TextInitializing
	default:
		return fmt.Sprintf("unhandled state: %s", state)
	}
}

// FormatSample renders "<ping>ms ↑<up> ↓<down>", dropping the ping segment
// when the ping is zero or absent.
func FormatSample(s SpeedSample) string {
	up := FormatByteRate(s.UploadBps)
	down := FormatByteRate(s.DownloadBps)
	if !s.HasPing || s.PingMS == 0 {
		return "↑" + up + " ↓" + down
	}
	return strconv.FormatInt(s.PingMS, 10) + "ms ↑" + up + " ↓" + down
}

// nextRateUnit is used when rounding lands on 1024 of the smaller unit.
var nextRateUnit = map[string]string{
	"KB": "MB",
	"MB": "GB",
	"GB": "TB",
	"TB": "PB",
	"PB": "EB",
}

// FormatByteRate renders a byte count with 1024-based units, one decimal
// below 10 and none above, with a trailing ".0" trimmed: 500 -> "500B",
// 2000000 -> "1.9MB", 1048576 -> "1MB".
func FormatByteRate(n int64) string {
	if n < 0 {
		n = 0
	}
	num, unit, _ := strings.Cut(humanize.IBytes(uint64(n)), " ")
	unit = strings.Replace(unit, "i", "", 1)
	num = strings.TrimSuffix(num, ".0")
	if next, ok := nextRateUnit[unit]; ok && num == "1024" {
		num, unit = "1", next
	}
	return num + unit
}
