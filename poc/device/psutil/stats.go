package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// Event is the psutil event payload. Rates are in KB/s.
type Event struct {
	Name    string      `json:"name"`
	CPU     float64     `json:"cpu"`
	Mem     float64     `json:"mem"`
	Network NetworkRate `json:"network"`
	Disk    DiskRate    `json:"disk"`
}

type NetworkRate struct {
	Up   float64 `json:"up"`
	Down float64 `json:"down"`
}

type DiskRate struct {
	Read  float64 `json:"read"`
	Write float64 `json:"write"`
}

type counters struct {
	at        time.Time
	netSent   uint64
	netRecv   uint64
	diskRead  uint64
	diskWrite uint64
}

// kbPerSecond is the rate between two cumulative byte counters. A counter
// that went backwards, e.g. after an interface reset, yields zero.
func kbPerSecond(prev, cur uint64, elapsed time.Duration) float64 {
	if cur < prev || elapsed <= 0 {
		return 0
	}
	return float64(cur-prev) / 1024 / elapsed.Seconds()
}

func rates(prev, cur counters) (NetworkRate, DiskRate) {
	elapsed := cur.at.Sub(prev.at)
	network := NetworkRate{
		Up:   kbPerSecond(prev.netSent, cur.netSent, elapsed),
		Down: kbPerSecond(prev.netRecv, cur.netRecv, elapsed),
	}
	storage := DiskRate{
		Read:  kbPerSecond(prev.diskRead, cur.diskRead, elapsed),
		Write: kbPerSecond(prev.diskWrite, cur.diskWrite, elapsed),
	}
	return network, storage
}

// Collector samples system utilization. Rates are measured since the
// previous sample; the first sample reports zero rates.
type Collector struct {
	name string
	prev *counters

	readCounters func(ctx context.Context) (counters, error)
	readUsage    func(ctx context.Context) (cpuPercent, memPercent float64, err error)
}

func NewCollector(name string) *Collector {
	return &Collector{
		name:         name,
		readCounters: readCounters,
		readUsage:    readUsage,
	}
}

func (c *Collector) Sample(ctx context.Context) (Event, error) {
	cpuPercent, memPercent, err := c.readUsage(ctx)
	if err != nil {
		return Event{}, err
	}
	cur, err := c.readCounters(ctx)
	if err != nil {
		return Event{}, err
	}

	ev := Event{Name: c.name, CPU: cpuPercent, Mem: memPercent}
	if c.prev != nil {
		ev.Network, ev.Disk = rates(*c.prev, cur)
	}
	c.prev = &cur
	return ev, nil
}

func readUsage(ctx context.Context) (float64, float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read memory usage: %w", err)
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	return cpuPercent, vm.UsedPercent, nil
}

func readCounters(ctx context.Context) (counters, error) {
	c := counters{at: time.Now()}

	nics, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return c, fmt.Errorf("failed to read network counters: %w", err)
	}
	for _, n := range nics {
		c.netSent += n.BytesSent
		c.netRecv += n.BytesRecv
	}

	disks, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return c, fmt.Errorf("failed to read disk counters: %w", err)
	}
	for _, d := range disks {
		c.diskRead += d.ReadBytes
		c.diskWrite += d.WriteBytes
	}
	return c, nil
}
