package hardware

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// /proc/meminfo reports kB values as "MemTotal:  16315972 kB".
func readMeminfo(field string) int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, field+":") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

func totalRAM() int64 { return readMeminfo("MemTotal") }

// MemAvailable accounts for reclaimable caches, the figure the kernel
// itself recommends for "how much can I allocate".
func availableRAM() int64 { return readMeminfo("MemAvailable") }
