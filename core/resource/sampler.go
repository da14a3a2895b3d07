package resource

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sampler reports local resource usage. Injectable so the control loop
// can be driven by scripted samples in tests.
type Sampler interface {
	// Sample returns current memory and CPU utilization in percent.
	Sample() (memPercent float64, cpuPercent float64, err error)
	// TotalMemoryGiB returns the total physical memory of the host.
	TotalMemoryGiB() float64
}

// SystemSampler reads real utilization through gopsutil.
type SystemSampler struct{}

func (SystemSampler) Sample() (float64, float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	// Non-blocking CPU sample, measured since the previous call.
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil || len(cpuPercents) == 0 {
		return vm.UsedPercent, 0, nil
	}

	return vm.UsedPercent, cpuPercents[0], nil
}

func (SystemSampler) TotalMemoryGiB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return float64(vm.Total) / (1 << 30)
}
