package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatClock renders seconds as m:ss, with a leading "-" for negative values.
func FormatClock(seconds int) string {
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%d:%02d", sign, seconds/60, seconds%60)
}

// ContrastColor returns "#000000" or "#FFFFFF", whichever reads better on hex.
// Unparseable colors get black text.
func ContrastColor(hex string) string {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return "#000000"
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return "#000000"
	}
	r, g, b := (v>>16)&0xff, (v>>8)&0xff, v&0xff
	brightness := (r*299 + g*587 + b*114) / 1000
	if brightness > 128 {
		return "#000000"
	}
	return "#FFFFFF"
}
