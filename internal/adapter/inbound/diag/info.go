package diag

import (
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/session"
)

// Info is the payload of /api/info.
type Info struct {
	Name       string    `json:"name" yaml:"name"`
	Version    string    `json:"version" yaml:"version"`
	GoVersion  string    `json:"goVersion" yaml:"go_version"`
	OS         string    `json:"os" yaml:"os"`
	Arch       string    `json:"arch" yaml:"arch"`
	PID        int       `json:"pid" yaml:"pid"`
	Hostname   string    `json:"hostname" yaml:"hostname"`
	StartedAt  time.Time `json:"startedAt" yaml:"started_at"`
	Uptime     string    `json:"uptime" yaml:"uptime"`
	Goroutines int       `json:"goroutines" yaml:"goroutines"`
	NumCPU     int       `json:"numCpu" yaml:"num_cpu"`
	Memory     Memory    `json:"memory" yaml:"memory"`
	Module     string    `json:"module,omitempty" yaml:"module,omitempty"`
}

// Memory is a subset of runtime.MemStats.
type Memory struct {
	AllocBytes      uint64 `json:"allocBytes" yaml:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes" yaml:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sysBytes" yaml:"sys_bytes"`
	HeapObjects     uint64 `json:"heapObjects" yaml:"heap_objects"`
	NumGC           uint32 `json:"numGc" yaml:"num_gc"`
}

func collectInfo(version string, startedAt time.Time, now time.Time) Info {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	hostname, _ := os.Hostname()
	info := Info{
		Name:       "diagscope",
		Version:    version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		PID:        os.Getpid(),
		Hostname:   hostname,
		StartedAt:  startedAt,
		Uptime:     now.Sub(startedAt).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		NumCPU:     runtime.NumCPU(),
		Memory: Memory{
			AllocBytes:      ms.Alloc,
			TotalAllocBytes: ms.TotalAlloc,
			SysBytes:        ms.Sys,
			HeapObjects:     ms.HeapObjects,
			NumGC:           ms.NumGC,
		},
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Module = bi.Main.Path
	}
	return info
}

func infoHandler(version string, startedAt time.Time) response.Response {
	return response.Try(func(s *session.Params) (response.WireResponse, error) {
		info := collectInfo(version, startedAt, time.Now())
		switch s.Query("format") {
		case "", "json":
			return response.JSON(http.StatusOK, info), nil
		case "yaml":
			return yamlReply(info)
		default:
			return response.WireResponse{}, response.BadRequest("unsupported format %q", s.Query("format"))
		}
	})
}

// configHandler renders cfg as YAML. cfg is marshaled on every request so
// the handler never holds a stale copy.
func configHandler(cfg any) response.Response {
	return response.Cached(response.Try(func(*session.Params) (response.WireResponse, error) {
		return yamlReply(cfg)
	}))
}

func yamlReply(v any) (response.WireResponse, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return response.WireResponse{}, err
	}
	return response.Fixed(http.StatusOK, response.MIMEYAML, data), nil
}
