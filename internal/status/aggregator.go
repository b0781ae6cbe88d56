// Package status merges the manager's view of a job with what can be
// observed directly: the worker log and the data volume inside the pod.
//
// None of the signals are reliable on their own. The manager caches a size
// that may be days old, the log only mentions sizes at certain points of a
// sync, and df needs a ready pod. Every lookup here degrades to an empty
// value instead of failing.
package status

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"mirrorctl/internal/logger"
	"mirrorctl/internal/manifest"
	"mirrorctl/internal/model"
	"mirrorctl/internal/units"

	"go.uber.org/zap"
)

const (
	successTail = 20
	syncingTail = 5
)

var sizeToken = regexp.MustCompile(`(\d+\.?\d+?[BKMGTP])`)

type JobSource interface {
	Job(ctx context.Context, name string) (model.MirrorStatus, bool)
}

type Cluster interface {
	WorkerConf(ctx context.Context, name string) (string, error)
	Pods(ctx context.Context, app string, ready bool) ([]model.PodInfo, error)
	Usage(ctx context.Context, pod string) map[string]string
	ClaimSize(ctx context.Context, name string) string
	Exec(ctx context.Context, pod string, command []string) (string, error)
}

type LogSource interface {
	Lines(name string, n int) ([]string, error)
}

type Aggregator struct {
	jobs    JobSource
	cluster Cluster
	logs    LogSource
}

func New(jobs JobSource, cluster Cluster, logs LogSource) *Aggregator {
	return &Aggregator{jobs: jobs, cluster: cluster, logs: logs}
}

// ComputeSize estimates the size of a job's mirror. It returns "" when the
// manager does not know the job.
func (a *Aggregator) ComputeSize(ctx context.Context, name string) string {
	job, ok := a.jobs.Job(ctx, name)
	if !ok {
		return ""
	}

	log := logger.Log.With(zap.String("job", name))

	var logSize string
	switch job.Status {
	case model.StatusSuccess:
		for _, line := range a.lines(name, successTail) {
			if !strings.Contains(strings.ToLower(line), "size") {
				continue
			}
			if token := sizeToken.FindString(line); token != "" && units.ToMB(logSize) < units.ToMB(token) {
				logSize = token
			}
		}
	case model.StatusSyncing:
		if a.provider(ctx, name).IsRsync() {
			for _, line := range a.lines(name, syncingTail) {
				if !strings.Contains(line, "B/s") {
					continue
				}
				if fields := strings.Fields(line); len(fields) >= 4 {
					logSize = units.DecimalToBinary(fields[0])
				}
			}
		}
	}

	dfSize := a.usedSpace(ctx, name)

	if logSize != "" {
		log.Debug("size found in log", zap.String("size", logSize))
	}
	if dfSize != "" {
		log.Debug("size found by df", zap.String("size", dfSize))
	}

	size := dfSize
	if units.ToMB(dfSize) < units.ToMB(logSize) {
		size = logSize
	}

	if size == "" || units.ToMB(size) == 0 {
		size = job.Size
		if size == model.SizeUnknown {
			size = ""
		}
	}

	return size
}

// Status builds the live status of a job. Jobs the manager does not report
// are shown as disabled.
func (a *Aggregator) Status(ctx context.Context, name string, provider model.Provider) *model.JobStatus {
	st := &model.JobStatus{}

	job, ok := a.jobs.Job(ctx, name)
	if ok {
		st.MirrorStatus = job
	} else {
		st.MirrorStatus = model.MirrorStatus{Name: name, Status: model.StatusDisabled}
	}

	st.Pods = a.Pods(ctx, name, false)
	st.DataSize = a.cluster.ClaimSize(ctx, manifest.DataClaim(name))

	if ok && job.Status == model.StatusSyncing && provider.IsRsync() {
		st.Transfer = ParseTransfer(a.lines(name, syncingTail))
	}

	return st
}

// Pods lists an app's pods with their current resource usage attached.
func (a *Aggregator) Pods(ctx context.Context, app string, ready bool) []model.PodInfo {
	pods, err := a.cluster.Pods(ctx, app, ready)
	if err != nil {
		logger.Log.Warn("failed to list pods",
			zap.String("app", app),
			zap.Error(err))
		return []model.PodInfo{}
	}

	for i := range pods {
		pods[i].Usage = a.cluster.Usage(ctx, pods[i].Name)
	}
	return pods
}

func (a *Aggregator) lines(name string, n int) []string {
	lines, err := a.logs.Lines(name, n)
	if err != nil {
		logger.Log.Warn("failed to tail log",
			zap.String("job", name),
			zap.Error(err))
		return nil
	}
	return lines
}

func (a *Aggregator) provider(ctx context.Context, name string) model.Provider {
	conf, err := a.cluster.WorkerConf(ctx, name)
	if err != nil {
		logger.Log.Debug("failed to read worker config",
			zap.String("job", name),
			zap.Error(err))
		return ""
	}

	spec, err := manifest.ParseWorkerConf(conf)
	if err != nil {
		logger.Log.Debug("failed to parse worker config",
			zap.String("job", name),
			zap.Error(err))
		return ""
	}
	return spec.Provider
}

// usedSpace runs df in the first ready pod of the job.
func (a *Aggregator) usedSpace(ctx context.Context, name string) string {
	pods, err := a.cluster.Pods(ctx, name, true)
	if err != nil || len(pods) == 0 {
		return ""
	}

	out, err := a.cluster.Exec(ctx, pods[0].Name, []string{"df", manifest.DataPath(name), "--output=used"})
	if err != nil {
		logger.Log.Warn("failed to read disk usage",
			zap.String("job", name),
			zap.String("pod", pods[0].Name),
			zap.Error(err))
		return ""
	}

	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		return ""
	}

	kib, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return ""
	}
	return units.FormatKiB(kib)
}
