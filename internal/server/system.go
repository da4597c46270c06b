package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/videoseg/masktrace/internal/config"
)

// handleSystemStatus reports host resource usage. Frame extraction and
// tracking are CPU and disk heavy, so operators watch this alongside
// session status.
func handleSystemStatus(c *gin.Context) {
	status := gin.H{
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
		"pid":        os.Getpid(),
		"uptime":     time.Since(startTime).Round(time.Second).String(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory"] = gin.H{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}

	dataDir := config.Get().Storage.DataDir
	if usage, err := disk.Usage(dataDir); err == nil {
		status["disk"] = gin.H{
			"path":         dataDir,
			"total":        usage.Total,
			"free":         usage.Free,
			"used_percent": usage.UsedPercent,
		}
	}

	c.JSON(http.StatusOK, status)
}
