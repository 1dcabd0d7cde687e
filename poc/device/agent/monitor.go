package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/poc/device/agent/database"
	"github.com/margo/wiotp-client/poc/device/agent/types"
	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/dm"
	"github.com/margo/wiotp-client/sdk/utils"
)

const (
	statusEvent = "status"

	// Diagnostic error codes raised by the health monitor.
	errorCodeCPU    = 1001
	errorCodeMemory = 1002
)

type HealthMonitorIfc interface {
	Start()
	Stop()
}

type healthReporter interface {
	SendEvent(ctx context.Context, eventID string, data []byte, format string, qos client.QoS) error
	AddErrorCode(ctx context.Context, reqID string, code int) error
	ClearErrorCodes(ctx context.Context, reqID string) error
	AddLogEntry(ctx context.Context, reqID string, entry dm.LogEntry) error
}

type healthSample struct {
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"mem"`
	Uptime    uint64  `json:"uptime"`
	Timestamp string  `json:"timestamp"`
}

func sampleHealth(ctx context.Context) (healthSample, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return healthSample{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return healthSample{}, fmt.Errorf("failed to read memory usage: %w", err)
	}
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return healthSample{}, fmt.Errorf("failed to read uptime: %w", err)
	}

	s := healthSample{
		Memory:    vm.UsedPercent,
		Uptime:    uptime,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(cpuPercent) > 0 {
		s.CPU = cpuPercent[0]
	}
	return s, nil
}

type healthCheck struct {
	name      string
	code      int
	threshold float64
	value     func(healthSample) float64
}

// HealthMonitor publishes a status event every interval and raises
// diagnostics while the device is over a health threshold.
type HealthMonitor struct {
	device   healthReporter
	database database.DatabaseIfc
	interval time.Duration
	checks   []healthCheck
	sample   func(ctx context.Context) (healthSample, error)
	log      *zap.SugaredLogger

	breached map[string]bool
	stopChan chan struct{}
	done     chan struct{}
}

func NewHealthMonitor(device healthReporter, db database.DatabaseIfc, interval time.Duration, health types.Health, log *zap.SugaredLogger) *HealthMonitor {
	return &HealthMonitor{
		device:   device,
		database: db,
		interval: interval,
		checks: []healthCheck{
			{name: "cpu", code: errorCodeCPU, threshold: health.CPUPercent, value: func(s healthSample) float64 { return s.CPU }},
			{name: "memory", code: errorCodeMemory, threshold: health.MemoryPercent, value: func(s healthSample) float64 { return s.Memory }},
		},
		sample:   sampleHealth,
		log:      log,
		breached: make(map[string]bool),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (hm *HealthMonitor) Start() {
	go hm.monitorLoop()
}

func (hm *HealthMonitor) Stop() {
	close(hm.stopChan)
	<-hm.done
}

func (hm *HealthMonitor) monitorLoop() {
	defer close(hm.done)
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), hm.interval)
			if err := hm.check(ctx); err != nil {
				hm.log.Warnw("Health check failed", "error", err)
			}
			cancel()
		case <-hm.stopChan:
			return
		}
	}
}

func (hm *HealthMonitor) check(ctx context.Context) error {
	s, err := hm.sample(ctx)
	if err != nil {
		return types.MonitorError(types.OperationSamplingHealth, err)
	}

	data, err := json.Marshal(map[string]healthSample{"d": s})
	if err != nil {
		return types.MonitorError(types.OperationSamplingHealth, err)
	}
	if err := hm.device.SendEvent(ctx, statusEvent, data, "json", client.QoS0); err != nil {
		hm.log.Warnw("Failed to publish status event", "error", err)
	}

	hm.evaluate(ctx, s)
	return nil
}

func (hm *HealthMonitor) evaluate(ctx context.Context, s healthSample) {
	wasBreached := len(hm.breached) > 0

	for _, c := range hm.checks {
		if c.threshold <= 0 {
			continue
		}
		value := c.value(s)
		if value <= c.threshold {
			delete(hm.breached, c.name)
			continue
		}
		if hm.breached[c.name] {
			continue
		}
		hm.breached[c.name] = true

		hm.log.Warnw("Health threshold exceeded", "check", c.name, "value", value, "threshold", c.threshold)
		reqID := utils.GenerateReqID()
		if err := hm.device.AddErrorCode(ctx, reqID, c.code); err != nil {
			hm.log.Warnw("Failed to add diagnostic error code", "code", c.code, "error", err)
		} else {
			hm.database.AddErrorCode(c.code)
		}
		hm.addLog(ctx, dm.LogEntry{
			Message:  fmt.Sprintf("%s usage %.1f%% is over %.1f%%", c.name, value, c.threshold),
			Severity: dm.SeverityWarning,
		})
	}

	if wasBreached && len(hm.breached) == 0 {
		hm.log.Info("Device health restored")
		if err := hm.device.ClearErrorCodes(ctx, utils.GenerateReqID()); err != nil {
			hm.log.Warnw("Failed to clear diagnostic error codes", "error", err)
		} else {
			hm.database.ClearErrorCodes()
		}
		hm.addLog(ctx, dm.LogEntry{Message: "device health restored", Severity: dm.SeverityInfo})
	}
}

func (hm *HealthMonitor) addLog(ctx context.Context, entry dm.LogEntry) {
	if err := hm.device.AddLogEntry(ctx, utils.GenerateReqID(), entry); err != nil {
		hm.log.Warnw("Failed to add diagnostic log entry", "message", entry.Message, "error", err)
	}
}
