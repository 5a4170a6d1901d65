package generation

import (
	"bufio"
	"os"
	"runtime"
	"strings"
	"sync"
)

const unknown = "unknown"

// DeviceInfo describes the host a run executed on.
type DeviceInfo struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
	CPU      string `json:"cpu"`
	SoC      string `json:"soc"`
	NumCPU   int    `json:"num_cpu"`
}

func (d DeviceInfo) String() string {
	return d.CPU + " (" + d.SoC + ", " + d.OS + "/" + d.Arch + ")"
}

var (
	deviceOnce sync.Once
	device     DeviceInfo
)

// DetectDevice inspects the host once and caches the result. Fields that cannot
// be determined are "unknown".
func DetectDevice() DeviceInfo {
	deviceOnce.Do(func() {
		device = detectDevice("/proc/cpuinfo")
	})
	return device
}

func detectDevice(cpuinfo string) DeviceInfo {
	d := DeviceInfo{OS: runtime.GOOS, Arch: runtime.GOARCH, NumCPU: runtime.NumCPU(), Hostname: unknown, CPU: unknown, SoC: unknown}
	if h, err := os.Hostname(); err == nil && h != "" {
		d.Hostname = h
	}
	f, err := os.Open(cpuinfo)
	if err != nil {
		return d
	}
	defer f.Close()
	var all strings.Builder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		all.WriteString(line)
		all.WriteByte('\n')
		key, val, ok := strings.Cut(line, ":")
		if !ok || d.CPU != unknown {
			continue
		}
		switch strings.TrimSpace(key) {
		case "model name", "Hardware", "Processor", "cpu model":
			if v := strings.TrimSpace(val); v != "" {
				d.CPU = v
			}
		}
	}
	d.SoC = socFromCPUInfo(all.String())
	return d
}

// socFromCPUInfo recognises a handful of mobile SoC families.
func socFromCPUInfo(s string) string {
	for _, name := range []string{"Snapdragon 8 Gen 3", "Snapdragon 8 Gen 2", "A18", "A17", "MediaTek", "Exynos"} {
		if strings.Contains(s, name) {
			return name
		}
	}
	return unknown
}
