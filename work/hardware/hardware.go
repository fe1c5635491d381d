package hardware

import (
	"os"
	"strings"

	"iptv-kiosk/work/logger"
)

// cpuinfoPath and modelPath are package variables so tests can point the
// probe at fixture files.
var (
	cpuinfoPath = "/proc/cpuinfo"
	modelPath   = "/proc/device-tree/model"
)

// DetectEmbedded reports whether the kiosk is running on constrained embedded
// hardware (in practice: a Raspberry Pi). Any read failure defaults to false;
// a misdetected desktop just gets conservative player flags, while erroring
// out here would keep the appliance from starting at all.
func DetectEmbedded() bool {
	if data, err := os.ReadFile(modelPath); err == nil {
		if strings.HasPrefix(string(data), "Raspberry Pi") {
			logger.Info("{hardware - DetectEmbedded} detected %s", strings.TrimRight(string(data), "\x00\n"))
			return true
		}
	}

	data, err := os.ReadFile(cpuinfoPath)
	if err != nil {
		return false
	}
	cpuinfo := string(data)
	if strings.Contains(cpuinfo, "BCM") || strings.Contains(cpuinfo, "Raspberry Pi") {
		logger.Info("{hardware - DetectEmbedded} detected Raspberry Pi - using optimized settings")
		return true
	}

	return false
}
