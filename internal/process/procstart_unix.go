//go:build !windows

package process

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// getProcStartUnix returns the process start time as Unix seconds.
// Returns 0 when unavailable or on error.
func getProcStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return linuxStartUnix(pid)
	}
	// Darwin/BSD: gopsutil uses sysctl under the hood
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// linuxStartUnix derives the start time from /proc/<pid>/stat without
// rounding through milliseconds, so repeated reads for one process agree.
func linuxStartUnix(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	ticks := parseStartTicks(string(b))
	if ticks <= 0 {
		return 0
	}
	bt := bootTime()
	if bt == 0 {
		return 0
	}
	return bt + ticks/clockTicks()
}

// parseStartTicks extracts field 22 (starttime) of a /proc/<pid>/stat line.
// The comm field may contain spaces, so parsing starts after the last ") ".
func parseStartTicks(stat string) int64 {
	end := strings.LastIndex(stat, ") ")
	if end == -1 {
		return 0
	}
	fields := strings.Fields(stat[end+2:])
	// fields[0] is state (field 3), so starttime sits at index 19
	if len(fields) < 20 {
		return 0
	}
	v, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

var (
	bootOnce sync.Once
	bootUnix int64
)

func bootTime() int64 {
	bootOnce.Do(func() {
		f, err := os.Open("/proc/stat")
		if err != nil {
			return
		}
		defer func() { _ = f.Close() }()
		s := bufio.NewScanner(f)
		for s.Scan() {
			if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
				if bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
					bootUnix = bt
				}
				return
			}
		}
	})
	return bootUnix
}

func clockTicks() int64 {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		return 100
	}
	return clk
}
