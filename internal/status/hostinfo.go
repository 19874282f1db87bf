package status

import (
	"context"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
)

// HostInfo describes the machine serving the API.
type HostInfo struct {
	Hostname   string   `json:"hostname"`
	OS         string   `json:"os"`
	Arch       string   `json:"arch"`
	GoVersion  string   `json:"goVersion"`
	CPUs       int      `json:"cpus"`
	LocalIPs   []string `json:"localIps"`
	PublicIP   string   `json:"publicIp"`
	Uptime     string   `json:"uptime"`
	StartedAt  string   `json:"startedAt"`
	StorageDir string   `json:"storageDir"`
}

// Host reports HostInfo. PublicIP is best effort and bounded by Timeout.
type Host struct {
	PublicIP   func(ctx context.Context) (string, error)
	Timeout    time.Duration
	Clock      clockwork.Clock
	Started    time.Time
	StorageDir string
}

func (h *Host) Info(ctx context.Context) HostInfo {
	clock := h.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	info := HostInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GoVersion:  runtime.Version(),
		CPUs:       runtime.NumCPU(),
		LocalIPs:   localIPs(),
		PublicIP:   Unknown,
		Uptime:     clock.Since(h.Started).Truncate(time.Second).String(),
		StartedAt:  h.Started.UTC().Format(time.RFC3339),
		StorageDir: h.StorageDir,
	}
	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}
	if h.PublicIP != nil {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 1500 * time.Millisecond
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if ip, err := h.PublicIP(pctx); err == nil && ip != "" {
			info.PublicIP = ip
		}
	}
	return info
}

func localIPs() []string {
	ips := make([]string, 0)
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		ips = append(ips, ipnet.IP.String())
	}
	return ips
}
