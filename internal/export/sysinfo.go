package export

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// SysInfo describes the machine a run was executed on.
type SysInfo struct {
	Platform string `json:"platform"`
	CPU      string `json:"cpu"`
	Cores    int    `json:"cores"`
	Memory   string `json:"memory"`
}

// CollectSysInfo queries the host. Fields it cannot read are left as "unknown".
func CollectSysInfo() SysInfo {
	si := SysInfo{Platform: "unknown", CPU: "unknown", Cores: runtime.NumCPU(), Memory: "unknown"}
	if h, err := host.Info(); err == nil && h.Platform != "" {
		si.Platform = fmt.Sprintf("%s %s (%s)", h.Platform, h.PlatformVersion, h.KernelArch)
	} else {
		si.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	if cs, err := cpu.Info(); err == nil && len(cs) > 0 && cs[0].ModelName != "" {
		si.CPU = cs[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		si.Memory = fmt.Sprintf("%d GB", vm.Total/1024/1024/1024)
	}
	return si
}

func (s SysInfo) String() string {
	return fmt.Sprintf("%s, %s x%d, %s RAM", s.Platform, s.CPU, s.Cores, s.Memory)
}
