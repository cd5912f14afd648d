package overlay

import (
	"fmt"
	"image/color"
)

// Battery label colours
var (
	BatteryText       = color.RGBA{255, 255, 255, 255}
	BatteryBackground = color.RGBA{0, 0, 0, 160}
)

// BatteryLabel formats a battery percentage. A negative level means the car
// has not reported yet.
func BatteryLabel(level int) string {
	if level < 0 {
		return "BAT --"
	}
	return fmt.Sprintf("BAT %d%%", level)
}
