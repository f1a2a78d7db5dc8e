package profiler

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
)

// ExecutionContext describes the unit of work being profiled. It is filled
// by the host (an HTTP middleware, a CLI wrapper) and read once at save time.
type ExecutionContext struct {
	Method    string `json:"method"`
	URL       string `json:"url"`
	Status    int    `json:"status,omitempty"`
	IP        string `json:"ip,omitempty"`
	Referer   string `json:"referer,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RawBody   string `json:"raw_body,omitempty"`

	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]any    `json:"query,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Server  map[string]string `json:"server,omitempty"`
	Files   []UploadedFile    `json:"files,omitempty"`

	IncludedModules []string `json:"included_modules,omitempty"`
	Extensions      []string `json:"extensions,omitempty"`
}

// ContextFunc produces the execution context at save time.
type ContextFunc func() ExecutionContext

// CLIContext describes the current process as a command-line run: method
// "CLI", the working directory and argv as URL, linked modules as included
// modules, build settings as extensions and a few host facts as server vars.
func CLIContext() ExecutionContext {
	ec := ExecutionContext{
		Method: "CLI",
		URL:    commandLine(),
		Server: map[string]string{
			"PID":       strconv.Itoa(os.Getpid()),
			"GOOS":      runtime.GOOS,
			"GOARCH":    runtime.GOARCH,
			"GOVERSION": runtime.Version(),
			"NUM_CPU":   strconv.Itoa(runtime.NumCPU()),
		},
	}
	if host, err := os.Hostname(); err == nil {
		ec.Server["HOSTNAME"] = host
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Path != "" {
			ec.IncludedModules = append(ec.IncludedModules, moduleString(&info.Main))
		}
		for _, dep := range info.Deps {
			ec.IncludedModules = append(ec.IncludedModules, moduleString(dep))
		}
		for _, s := range info.Settings {
			ec.Extensions = append(ec.Extensions, s.Key+"="+s.Value)
		}
	}
	return ec
}

func commandLine() string {
	if len(os.Args) == 0 {
		return ""
	}
	bin := filepath.Base(os.Args[0])
	if wd, err := os.Getwd(); err == nil {
		bin = filepath.Join(wd, bin)
	}
	return strings.Join(append([]string{bin}, os.Args[1:]...), " ")
}

func moduleString(m *debug.Module) string {
	if m.Replace != nil {
		m = m.Replace
	}
	if m.Version == "" {
		return m.Path
	}
	return m.Path + "@" + m.Version
}
