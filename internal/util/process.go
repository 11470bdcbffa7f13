package util

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sample is a single resource reading of a running process.
type Sample struct {
	Elapsed  time.Duration
	MemoryKB int64 // -1 when the reading failed
}

// ProcessStats 存储进程的资源使用情况
type ProcessStats struct {
	PID          int
	PeakMemoryKB int64 // -1 if never measured
	Samples      int
}

// Monitor samples a process periodically until stopped.
type Monitor struct {
	mu    sync.Mutex
	stats ProcessStats
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// MonitorProcess starts sampling the memory of pid (and its children) every interval.
//
// onSample is called from the monitor goroutine for every tick. Sampling ends
// when exited is closed or Stop is called; no sample is taken after either.
func MonitorProcess(pid int, start time.Time, interval time.Duration, exited <-chan struct{}, onSample func(Sample)) *Monitor {
	m := &Monitor{
		stats: ProcessStats{PID: pid, PeakMemoryKB: -1},
		stop:  make(chan struct{}),
	}

	if pid <= 0 || interval <= 0 {
		return m
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// exit notification and stop win over a pending tick
				select {
				case <-exited:
					return
				case <-m.stop:
					return
				default:
				}

				memKB, err := getProcessAndChildrenMemoryKB(pid)
				if err != nil {
					memKB = -1
				}

				m.mu.Lock()
				m.stats.Samples++
				if memKB > m.stats.PeakMemoryKB {
					m.stats.PeakMemoryKB = memKB
				}
				m.mu.Unlock()

				if onSample != nil {
					onSample(Sample{Elapsed: time.Since(start), MemoryKB: memKB})
				}

			case <-exited:
				return
			case <-m.stop:
				return
			}
		}
	}()

	return m
}

// Stop ends sampling, waits for the monitor goroutine and returns the collected stats.
func (m *Monitor) Stop() ProcessStats {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ProcessMemoryKB 获取指定进程的内存使用量（KB）
func ProcessMemoryKB(pid int) (int64, error) {
	switch runtime.GOOS {
	case "linux":
		return getLinuxProcessMemoryKB(pid)
	case "darwin":
		return getDarwinProcessMemoryKB(pid)
	default:
		return -1, fmt.Errorf("memory sampling not supported on %s", runtime.GOOS)
	}
}

// getLinuxProcessMemoryKB reads VmRSS from /proc/<pid>/status.
// Zombies have no VmRSS line, so an exited but unreaped process reports an error.
func getLinuxProcessMemoryKB(pid int) (int64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return -1, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		return strconv.ParseInt(fields[1], 10, 64)
	}

	return -1, fmt.Errorf("no VmRSS for pid %d", pid)
}

// getDarwinProcessMemoryKB 获取macOS上进程的内存使用量（KB）
func getDarwinProcessMemoryKB(pid int) (int64, error) {
	output, err := execCommand("ps", "-o", "rss=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return -1, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(output)), 10, 64)
}

// getProcessAndChildrenMemoryKB 获取进程及其所有子进程的总内存使用量
func getProcessAndChildrenMemoryKB(pid int) (int64, error) {
	memKB, err := ProcessMemoryKB(pid)
	if err != nil {
		return -1, err
	}

	// interpreters and shell wrappers do the real work in a child
	children, err := getChildProcesses(pid)
	if err == nil {
		for _, childPid := range children {
			childMem, err := ProcessMemoryKB(childPid)
			if err == nil && childMem > 0 {
				memKB += childMem
			}
		}
	}

	return memKB, nil
}

// getChildProcesses 获取指定进程的所有子进程ID
func getChildProcesses(pid int) ([]int, error) {
	var children []int

	switch runtime.GOOS {
	case "linux":
		entries, err := os.ReadDir("/proc")
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			childPid, err := strconv.Atoi(entry.Name())
			if err != nil {
				continue
			}
			data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", childPid))
			if err != nil {
				continue
			}
			// comm may contain spaces; fields after the closing paren are fixed
			stat := string(data)
			if idx := strings.LastIndexByte(stat, ')'); idx >= 0 {
				stat = stat[idx+1:]
			}
			fields := strings.Fields(stat)
			if len(fields) >= 2 {
				if ppid, err := strconv.Atoi(fields[1]); err == nil && ppid == pid {
					children = append(children, childPid)
				}
			}
		}

	case "darwin":
		output, err := execCommand("pgrep", "-P", strconv.Itoa(pid)).Output()
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(output), "\n") {
			if childPid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
				children = append(children, childPid)
			}
		}
	}

	return children, nil
}

// 为了便于测试，将exec.Command包装起来
var execCommand = exec.Command
