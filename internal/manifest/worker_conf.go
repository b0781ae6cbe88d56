package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"mirrorctl/internal/model"

	"github.com/pelletier/go-toml/v2"
)

const (
	MirrorDir     = "/data/mirrors"
	WorkerLogDir  = "/var/log/tunasync"
	ProgressFlag  = "--info=progress2"
	Stage1Profile = "debian"
	workerRetry   = 3
)

var ErrNoMirror = errors.New("worker config has no mirror section")

type workerConf struct {
	Global  globalSection   `toml:"global"`
	Manager managerSection  `toml:"manager"`
	Cgroup  cgroupSection   `toml:"cgroup"`
	Server  serverSection   `toml:"server"`
	Mirrors []mirrorSection `toml:"mirrors"`
}

type globalSection struct {
	Name       string `toml:"name"`
	MirrorDir  string `toml:"mirror_dir"`
	LogDir     string `toml:"log_dir"`
	Retry      int    `toml:"retry"`
	Concurrent int    `toml:"concurrent"`
	Interval   int    `toml:"interval"`
}

type managerSection struct {
	APIBase string `toml:"api_base"`
}

type cgroupSection struct {
	Enable   bool   `toml:"enable"`
	BasePath string `toml:"base_path"`
	Group    string `toml:"group"`
}

type serverSection struct {
	Hostname   string `toml:"hostname"`
	ListenAddr string `toml:"listen_addr"`
	ListenPort int    `toml:"listen_port"`
	SSLCert    string `toml:"ssl_cert"`
	SSLKey     string `toml:"ssl_key"`
}

type mirrorSection struct {
	Name          string            `toml:"name"`
	Provider      string            `toml:"provider"`
	Upstream      string            `toml:"upstream"`
	UseIPv6       bool              `toml:"use_ipv6"`
	Command       string            `toml:"command,omitempty"`
	RsyncOptions  []string          `toml:"rsync_options,omitempty"`
	Stage1Profile string            `toml:"stage1_profile,omitempty"`
	MemoryLimit   string            `toml:"memory_limit,omitempty"`
	SizePattern   string            `toml:"size_pattern,omitempty"`
	Env           map[string]string `toml:"env,omitempty"`
}

// WorkerConf renders the tunasync worker configuration for one job.
func WorkerConf(name, managerAPI string, spec model.JobSpec) (string, error) {
	mirror := mirrorSection{
		Name:     name,
		Provider: string(spec.Provider),
		Upstream: spec.Upstream,
	}

	switch {
	case spec.Provider == model.ProviderCommand:
		mirror.Command = spec.Command
	case spec.Provider.IsRsync():
		mirror.RsyncOptions = withProgress(spec.RsyncOptions)
		if spec.Provider == model.ProviderTwoStageRsync {
			mirror.Stage1Profile = Stage1Profile
		}
	}

	mirror.MemoryLimit = spec.MemoryLimit
	mirror.SizePattern = spec.SizePattern
	if len(spec.AdditionOptions) > 0 {
		mirror.Env = spec.AdditionOptions
	}

	conf := workerConf{
		Global: globalSection{
			Name:       name,
			MirrorDir:  MirrorDir,
			LogDir:     WorkerLogDir + "/" + name,
			Retry:      workerRetry,
			Concurrent: spec.Concurrent,
			Interval:   spec.Interval,
		},
		Manager: managerSection{APIBase: managerAPI},
		Server: serverSection{
			Hostname:   name,
			ListenAddr: "0.0.0.0",
			ListenPort: WorkerPort,
		},
		Mirrors: []mirrorSection{mirror},
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(conf); err != nil {
		return "", fmt.Errorf("failed to encode worker config: %w", err)
	}

	return buf.String(), nil
}

// ParseWorkerConf reads back the job fields held in a rendered worker
// configuration. The progress flag added by WorkerConf is dropped again.
func ParseWorkerConf(text string) (model.JobSpec, error) {
	var conf workerConf
	if err := toml.Unmarshal([]byte(text), &conf); err != nil {
		return model.JobSpec{}, fmt.Errorf("failed to decode worker config: %w", err)
	}

	if len(conf.Mirrors) == 0 {
		return model.JobSpec{}, ErrNoMirror
	}
	mirror := conf.Mirrors[0]

	spec := model.JobSpec{
		Name:        conf.Global.Name,
		Upstream:    mirror.Upstream,
		Provider:    model.Provider(mirror.Provider),
		Command:     mirror.Command,
		Concurrent:  conf.Global.Concurrent,
		Interval:    conf.Global.Interval,
		MemoryLimit: mirror.MemoryLimit,
		SizePattern: mirror.SizePattern,
	}

	if opts := slices.DeleteFunc(slices.Clone(mirror.RsyncOptions), func(o string) bool {
		return o == ProgressFlag
	}); len(opts) > 0 {
		spec.RsyncOptions = opts
	}

	if len(mirror.Env) > 0 {
		spec.AdditionOptions = mirror.Env
	}

	return spec, nil
}

func withProgress(opts []string) []string {
	out := slices.Clone(opts)
	if !slices.Contains(out, ProgressFlag) {
		out = append(out, ProgressFlag)
	}
	return out
}
