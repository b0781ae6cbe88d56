package daemon

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"mirrorctl/internal/config"
	"mirrorctl/internal/kube"
	"mirrorctl/internal/logger"
	"mirrorctl/internal/manager"
	"mirrorctl/internal/manifest"
	"mirrorctl/internal/model"
	"mirrorctl/internal/repository"
	"mirrorctl/internal/status"
	"mirrorctl/internal/tail"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	managerDataSize = "5Gi"
	podLookups      = 8
)

var (
	ErrJobNotFound     = errors.New("job not exists")
	ErrFrontDisabled   = errors.New("front not config")
	ErrNoReadyPod      = errors.New("no ready pod or something wrong")
	ErrUnknownTarget   = errors.New("illegal request")
	ErrNoNodes         = errors.New("failed to list nodes")
	errWorkerRosterGet = errors.New("failed to list workers")
)

// JobManager drives the lifecycle of mirror jobs across the cluster and
// the tunasync manager. It keeps no state between calls.
type JobManager struct {
	cfg     *config.Config
	kube    *kube.Client
	manager *manager.Client
	status  *status.Aggregator
	logs    *tail.Reader
	history *repository.OperationRepository
}

func NewJobManager(cfg *config.Config, kc *kube.Client, mc *manager.Client, logs *tail.Reader) *JobManager {
	return &JobManager{
		cfg:     cfg,
		kube:    kc,
		manager: mc,
		status:  status.New(mc, kc, logs),
		logs:    logs,
		history: repository.NewOperationRepository(),
	}
}

func (m *JobManager) exists(ctx context.Context, name string) (bool, error) {
	workers, err := m.manager.Workers(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", errWorkerRosterGet, err)
	}
	return lo.ContainsBy(workers, func(w model.Worker) bool {
		return w.ID == name
	}), nil
}

func (m *JobManager) nodeKnown(ctx context.Context, node string) bool {
	nodes, err := m.kube.Nodes(ctx)
	if err != nil {
		logger.Log.Warn("failed to list nodes", zap.Error(err))
		return false
	}
	return slices.Contains(nodes, node)
}

// Init deploys the tunasync manager when it is not running yet.
func (m *JobManager) Init(ctx context.Context) *Result {
	r := m.initManager(ctx)
	m.record(ctx, model.ActionInit, m.cfg.Manager.Name, "", r)
	return r
}

func (m *JobManager) initManager(ctx context.Context) *Result {
	name := m.cfg.Manager.Name
	found, err := kube.Exists(ctx, m.kube, kube.Deployments, name)
	if err != nil {
		logger.Log.Warn("failed to look up manager", zap.Error(err))
	}
	if found {
		return ok("OK")
	}

	logger.Log.Warn("manager not found, deploying", zap.String("name", name))

	if !kube.Apply(ctx, m.kube, kube.PersistentVolumeClaims, manifest.LogClaim, manifest.Args{
		StorageClass: m.cfg.StorageClass,
		DataSize:     managerDataSize,
	}) {
		return failed("create PVC failed", "pvc")
	}

	port := int32(m.cfg.Manager.Port)
	if !kube.Apply(ctx, m.kube, kube.Services, name, manifest.Args{Port: port}) {
		return failed("create SVC failed", "service")
	}

	volumes, mounts := manifest.ManagerVolumes()
	if !kube.Apply(ctx, m.kube, kube.Deployments, name, manifest.Args{
		Image:   m.cfg.Manager.Image,
		Port:    port,
		Node:    m.cfg.Node,
		Volumes: volumes,
		Mounts:  mounts,
	}) {
		return failed("create Deployment failed", "deployment")
	}

	logger.Log.Info("manager deployed", zap.String("name", name))
	return ok("OK")
}

// Create provisions a new job: config map, data claim, service, then the
// worker deployment. A failed step stops the sequence and leaves earlier
// resources in place; applying again is safe.
func (m *JobManager) Create(ctx context.Context, spec model.JobSpec) *Result {
	r := m.create(ctx, spec)
	m.record(ctx, model.ActionCreate, spec.Name, "", r)
	return r
}

func (m *JobManager) create(ctx context.Context, spec model.JobSpec) *Result {
	if spec.Name == "" || spec.Upstream == "" {
		return invalid("not include name or upstream")
	}

	found, err := m.exists(ctx, spec.Name)
	if err != nil {
		return internal(err)
	}
	if found {
		return invalid("job already exists")
	}

	if spec.Image == "" {
		spec.Image = model.DefaultImage
	}
	if spec.DataSize == "" {
		spec.DataSize = model.DefaultDataSize
	}
	if spec.Node == "" {
		spec.Node = m.cfg.Node
	}
	if spec.Node != "" && !m.nodeKnown(ctx, spec.Node) {
		return invalid("selected node not exists")
	}

	if spec.Provider == "" {
		spec.Provider = model.ProviderRsync
	}
	if err := spec.Validate(); err != nil {
		return invalid(err.Error())
	}
	if err := checkDataSize(spec.DataSize); err != nil {
		return invalid(err.Error())
	}
	spec.Coerce()

	name := spec.Name
	log := logger.Log.With(zap.String("job", name))

	if !kube.Apply(ctx, m.kube, kube.ConfigMaps, name, m.confArgs(spec)) {
		return failed("something error when apply config map", "config map")
	}
	log.Debug("config map applied")

	if !kube.Apply(ctx, m.kube, kube.PersistentVolumeClaims, manifest.DataClaim(name), m.claimArgs(spec.DataSize)) {
		return failed("something error when apply persistent volume claim", "persistent volume claim")
	}
	log.Debug("data claim applied")

	if !kube.Apply(ctx, m.kube, kube.Services, name, manifest.Args{Port: manifest.WorkerPort}) {
		return failed("something error when apply service", "service")
	}
	log.Debug("service applied")

	if !kube.Apply(ctx, m.kube, kube.Deployments, name, m.workerArgs(name, spec.Image, spec.Node)) {
		return failed("something error when apply deployment", "deployment")
	}
	log.Info("job created")

	if front := m.deployFront(ctx, name); !front.OK() {
		log.Warn("failed to reload front", zap.String("reason", front.Message))
		return ok(fmt.Sprintf("create %s succeed, but reload front failed", name))
	}

	return ok(fmt.Sprintf("create %s succeed", name))
}

// Modify merges patch into the job's current spec and reconciles only what
// changed. Behaviour changes rewrite the config map and cycle the worker,
// a new data size resizes the claim, and a new image or node rolls the
// deployment. The three paths run independently.
func (m *JobManager) Modify(ctx context.Context, name string, patch model.JobSpec) *Result {
	r := m.modify(ctx, name, patch)
	m.record(ctx, model.ActionModify, name, "", r)
	return r
}

func (m *JobManager) modify(ctx context.Context, name string, patch model.JobSpec) *Result {
	info, err := m.Info(ctx, name, false)
	if errors.Is(err, ErrJobNotFound) {
		return notFound(err.Error())
	}
	if err != nil {
		return internal(err)
	}

	current := info.Spec
	want := merge(current, patch)
	want.Name = name

	changed := behaviourChanged(current, want)
	if changed {
		if err := want.Validate(); err != nil {
			return invalid(err.Error())
		}
		want.Coerce()
	}
	if want.DataSize != current.DataSize {
		if err := checkDataSize(want.DataSize); err != nil {
			return invalid(err.Error())
		}
	}

	log := logger.Log.With(zap.String("job", name))
	var messages, steps []string

	if changed {
		switch {
		case !kube.Apply(ctx, m.kube, kube.ConfigMaps, name, m.confArgs(want)):
			messages = append(messages, "something error when apply config map")
			steps = append(steps, "config map")
		case !m.cycle(ctx, name):
			messages = append(messages, "failed to reload or start job")
			steps = append(steps, "reload")
		default:
			log.Debug("worker config updated")
		}
	}

	if want.DataSize != current.DataSize {
		if kube.Apply(ctx, m.kube, kube.PersistentVolumeClaims, manifest.DataClaim(name), m.claimArgs(want.DataSize)) {
			log.Debug("data claim resized", zap.String("size", want.DataSize))
		} else {
			messages = append(messages, "something error when apply persistent volume claim")
			steps = append(steps, "persistent volume claim")
		}
	}

	// A requested node counts as a change even when nothing is recorded.
	if want.Image != current.Image || (want.Node != "" && want.Node != current.Node) {
		node := want.Node
		if node != "" && !m.nodeKnown(ctx, node) {
			log.Warn("unknown node requested, placement dropped", zap.String("node", node))
			node = ""
		}

		image := want.Image
		if image == "" {
			image = model.DefaultImage
		}

		if kube.Apply(ctx, m.kube, kube.Deployments, name, m.workerArgs(name, image, node)) {
			log.Debug("deployment updated", zap.String("image", image), zap.String("node", node))
		} else {
			messages = append(messages, "something error when apply deployment")
			steps = append(steps, "deployment")
		}
	}

	if len(steps) > 0 {
		return &Result{Code: http.StatusInternalServerError, Message: strings.Join(messages, "; "), Failed: steps}
	}
	return ok("success")
}

// cycle makes a running worker pick up a rewritten config.
func (m *JobManager) cycle(ctx context.Context, name string) bool {
	for _, cmd := range []string{"reload", "restart", "start"} {
		if !m.manager.Command(ctx, name, cmd).OK() {
			return false
		}
	}
	return true
}

// Delete tears a job down. Every step is attempted; the data claim is kept.
func (m *JobManager) Delete(ctx context.Context, name string) *Result {
	r := m.delete(ctx, name)
	m.record(ctx, model.ActionDelete, name, "", r)
	return r
}

func (m *JobManager) delete(ctx context.Context, name string) *Result {
	found, err := m.exists(ctx, name)
	if err != nil {
		return internal(err)
	}
	if !found {
		return notFound(ErrJobNotFound.Error())
	}

	steps := []struct {
		name string
		run  func() bool
	}{
		{"disable", func() bool { return m.manager.Command(ctx, name, "disable").OK() }},
		{"deployment", func() bool { return kube.Delete(ctx, m.kube, kube.Deployments, name, true) }},
		{"service", func() bool { return kube.Delete(ctx, m.kube, kube.Services, name, true) }},
		{"config map", func() bool { return kube.Delete(ctx, m.kube, kube.ConfigMaps, name, true) }},
		{"worker", func() bool { return m.manager.DeleteWorker(ctx, name).OK() }},
		{"flush", func() bool { return m.manager.FlushDisabled(ctx).OK() }},
	}

	var failedSteps []string
	for _, s := range steps {
		if !s.run() {
			failedSteps = append(failedSteps, s.name)
		}
	}

	if len(failedSteps) > 0 {
		return failed(fmt.Sprintf("some error happened in [%s]", strings.Join(failedSteps, ", ")), failedSteps...)
	}

	logger.Log.Info("job deleted", zap.String("job", name))
	return ok("success")
}

// Command forwards a control command for the job to the manager.
func (m *JobManager) Command(ctx context.Context, name, cmd string) *Result {
	r := m.command(ctx, name, cmd)
	m.record(ctx, model.ActionCommand, name, cmd, r)
	return r
}

func (m *JobManager) command(ctx context.Context, name, cmd string) *Result {
	switch cmd {
	case "start", "stop", "restart", "reload", "enable", "disable", "refresh":
	default:
		return notFound("command not exists")
	}

	found, err := m.exists(ctx, name)
	if err != nil {
		return internal(err)
	}
	if !found {
		return notFound(ErrJobNotFound.Error())
	}

	var success bool
	switch cmd {
	case "enable", "disable":
		success = m.manager.Command(ctx, name, cmd).OK() && m.manager.FlushDisabled(ctx).OK()
	case "refresh":
		success = m.manager.SetSize(ctx, name, name, m.status.ComputeSize(ctx, name)).OK()
	default:
		success = m.manager.Command(ctx, name, cmd).OK()
	}

	if !success {
		return failed("failed", cmd)
	}
	return ok("success")
}

// Refresh sweeps every job the manager knows. With update the size of each
// job is recomputed and pushed; with retry failed jobs are started again.
func (m *JobManager) Refresh(ctx context.Context, update, retry bool) *Result {
	r := m.refresh(ctx, update, retry)
	m.record(ctx, model.ActionRefresh, "", fmt.Sprintf("update=%t retry=%t", update, retry), r)
	return r
}

func (m *JobManager) refresh(ctx context.Context, update, retry bool) *Result {
	jobs, err := m.manager.Jobs(ctx, "")
	if err != nil {
		return internal(err)
	}

	var failedJobs []string
	for _, job := range jobs {
		log := logger.Log.With(zap.String("job", job.Name))
		success := true

		if update {
			size := m.status.ComputeSize(ctx, job.Name)
			if m.manager.SetSize(ctx, job.Name, job.Name, size).OK() {
				log.Debug("size updated", zap.String("size", size))
			} else {
				success = false
				log.Warn("failed to update size", zap.String("size", size))
			}
		}

		if retry && job.Status == model.StatusFailed {
			if m.manager.Command(ctx, job.Name, "start").OK() {
				log.Debug("failed job restarted")
			} else {
				success = false
				log.Warn("failed to restart failed job")
			}
		}

		if !success {
			failedJobs = append(failedJobs, job.Name)
		}
	}

	if len(failedJobs) > 0 {
		return failed("something failed", failedJobs...)
	}
	return ok("success")
}

// DeployFront rebuilds the front proxy so it serves every worker's data,
// plus addition when that job is not registered yet.
func (m *JobManager) DeployFront(ctx context.Context, addition string) *Result {
	r := m.deployFront(ctx, addition)
	m.record(ctx, model.ActionFront, addition, "", r)
	return r
}

func (m *JobManager) deployFront(ctx context.Context, addition string) *Result {
	if !m.cfg.Front.Enabled() {
		return invalid(ErrFrontDisabled.Error())
	}

	workers, err := m.manager.Workers(ctx)
	if err != nil {
		return internal(err)
	}

	ids := lo.Map(workers, func(w model.Worker, _ int) string {
		return w.ID
	})
	if addition != "" {
		ids = append(ids, addition)
	}

	volumes, mounts := manifest.FrontVolumes(lo.Uniq(ids))
	if !kube.Apply(ctx, m.kube, kube.DaemonSets, m.cfg.Front.Name, manifest.Args{
		Image:           m.cfg.Front.Image,
		Node:            m.cfg.Node,
		ImagePullSecret: m.cfg.Front.ImagePullSecrets,
		Volumes:         volumes,
		Mounts:          mounts,
	}) {
		return failed("reload front failed", "daemonset")
	}

	return ok("reload front succeed")
}

// RestartPods deletes the pods of the manager, the front proxy or a job so
// their controllers recreate them.
func (m *JobManager) RestartPods(ctx context.Context, target Target, name string) *Result {
	r := m.restartPods(ctx, target, name)
	m.record(ctx, model.ActionRestart, name, string(target), r)
	return r
}

func (m *JobManager) restartPods(ctx context.Context, target Target, name string) *Result {
	switch target {
	case TargetManager:
		name = m.cfg.Manager.Name
	case TargetFront:
		if !m.cfg.Front.Enabled() {
			return failed(ErrFrontDisabled.Error())
		}
		name = m.cfg.Front.Name
	default:
		found, err := m.exists(ctx, name)
		if err != nil {
			return internal(err)
		}
		if !found {
			return notFound(ErrJobNotFound.Error())
		}
	}

	if !m.kube.Restart(ctx, name) {
		return failed("restart failed", "pod")
	}
	return ok(fmt.Sprintf("restart %s succeed", name))
}

// List returns every job with its pods. Workers without a running mirror
// show up as disabled when status is "all" or "disabled".
func (m *JobManager) List(ctx context.Context, state, filter string) ([]model.JobStatus, error) {
	if state == "" {
		state = "all"
	}

	jobs := make(map[string]model.JobStatus)

	if state == "all" || state == model.StatusDisabled {
		workers, err := m.manager.Workers(ctx)
		if err != nil {
			return nil, err
		}
		for _, w := range workers {
			jobs[w.ID] = model.JobStatus{MirrorStatus: model.MirrorStatus{Name: w.ID, Status: model.StatusDisabled}}
		}
	}

	mirrors, err := m.manager.Jobs(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, j := range mirrors {
		if (state != "all" && state != j.Status) || !strings.Contains(j.Name, filter) {
			delete(jobs, j.Name)
			continue
		}
		jobs[j.Name] = model.JobStatus{MirrorStatus: j}
	}

	names := slices.Sorted(maps.Keys(jobs))
	names = lo.Filter(names, func(name string, _ int) bool {
		return strings.Contains(name, filter)
	})

	result := make([]model.JobStatus, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(podLookups)
	for i, name := range names {
		result[i] = jobs[name]
		g.Go(func() error {
			result[i].Pods = m.status.Pods(gctx, name, false)
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

// Info reads a job's spec back from the cluster, and its live status when
// withStatus is set.
func (m *JobManager) Info(ctx context.Context, name string, withStatus bool) (*model.JobInfo, error) {
	found, err := m.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrJobNotFound
	}

	conf, err := m.kube.WorkerConf(ctx, name)
	if err != nil {
		return nil, err
	}

	spec, err := manifest.ParseWorkerConf(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config of %s: %w", name, err)
	}
	spec.Name = name
	spec.DataSize = m.kube.ClaimSize(ctx, manifest.DataClaim(name))

	node, image, err := m.kube.Placement(ctx, name)
	if err != nil {
		logger.Log.Warn("failed to read placement",
			zap.String("job", name),
			zap.Error(err))
	}
	spec.Node, spec.Image = node, image

	info := &model.JobInfo{Spec: spec}
	if withStatus {
		info.Status = m.status.Status(ctx, name, spec.Provider)
	}
	return info, nil
}

// LogPath is the full log of a job, for streaming.
func (m *JobManager) LogPath(ctx context.Context, name string) (string, error) {
	found, err := m.exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrJobNotFound
	}
	return m.logs.Path(name), nil
}

// Log returns the last n lines of a job's log, newline terminated.
func (m *JobManager) Log(ctx context.Context, name string, n int) (string, error) {
	found, err := m.exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrJobNotFound
	}

	lines, err := m.logs.Lines(name, n)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (m *JobManager) Nodes(ctx context.Context) ([]string, error) {
	nodes, err := m.kube.Nodes(ctx)
	if err != nil {
		logger.Log.Warn("failed to list nodes", zap.Error(err))
		return nil, ErrNoNodes
	}
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	return nodes, nil
}

// Component returns the ready pods of the manager or the front proxy.
func (m *JobManager) Component(ctx context.Context, target Target) ([]model.PodInfo, error) {
	var name string
	switch target {
	case TargetManager:
		name = m.cfg.Manager.Name
	case TargetFront:
		if !m.cfg.Front.Enabled() {
			return nil, ErrUnknownTarget
		}
		name = m.cfg.Front.Name
	default:
		return nil, ErrUnknownTarget
	}

	pods := m.status.Pods(ctx, name, true)
	if len(pods) == 0 {
		return nil, ErrNoReadyPod
	}
	return pods, nil
}

// History returns recorded operations, newest first. With failedOnly only
// operations that did not succeed are returned.
func (m *JobManager) History(job string, failedOnly bool, limit int) ([]model.Operation, error) {
	if failedOnly {
		return m.history.GetFailed(job, limit)
	}
	if job != "" {
		return m.history.GetByJob(job, limit)
	}
	return m.history.GetRecent(limit)
}

func (m *JobManager) confArgs(spec model.JobSpec) manifest.Args {
	return manifest.Args{ManagerAPI: m.manager.API(), Job: spec}
}

func (m *JobManager) claimArgs(size string) manifest.Args {
	return manifest.Args{StorageClass: m.cfg.StorageClass, DataSize: size}
}

func (m *JobManager) workerArgs(name, image, node string) manifest.Args {
	volumes, mounts := manifest.JobVolumes(name)
	return manifest.Args{
		Image:           image,
		Node:            node,
		Port:            manifest.WorkerPort,
		ImagePullSecret: m.cfg.ImagePullSecrets,
		Volumes:         volumes,
		Mounts:          mounts,
	}
}

func (m *JobManager) record(ctx context.Context, action model.Action, job, detail string, r *Result) {
	op := &model.Operation{
		RequestID: RequestID(ctx),
		Job:       job,
		Action:    action,
		Detail:    detail,
		Success:   r.OK(),
		Failed:    strings.Join(r.Failed, ","),
		Message:   r.Message,
		At:        time.Now(),
	}

	if err := m.history.Save(op); err != nil {
		logger.Log.Warn("failed to save operation",
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// checkDataSize rejects claim sizes the control plane would not accept.
func checkDataSize(size string) error {
	if _, err := resource.ParseQuantity(size); err != nil {
		return fmt.Errorf("invalid data size %q", size)
	}
	return nil
}

// merge fills every zero field of patch from current.
func merge(current, patch model.JobSpec) model.JobSpec {
	out := patch
	if out.Upstream == "" {
		out.Upstream = current.Upstream
	}
	if out.Provider == "" {
		out.Provider = current.Provider
	}
	if out.Command == "" {
		out.Command = current.Command
	}
	if out.Concurrent <= 0 {
		out.Concurrent = current.Concurrent
	}
	if out.Interval <= 0 {
		out.Interval = current.Interval
	}
	if len(out.RsyncOptions) == 0 {
		out.RsyncOptions = current.RsyncOptions
	}
	if out.MemoryLimit == "" {
		out.MemoryLimit = current.MemoryLimit
	}
	if out.SizePattern == "" {
		out.SizePattern = current.SizePattern
	}
	if len(out.AdditionOptions) == 0 {
		out.AdditionOptions = current.AdditionOptions
	}
	if out.Image == "" {
		out.Image = current.Image
	}
	if out.DataSize == "" {
		out.DataSize = current.DataSize
	}
	if out.Node == "" {
		out.Node = current.Node
	}
	return out
}

// behaviourChanged compares the fields the worker itself consumes. Storage,
// image and placement are reconciled separately.
func behaviourChanged(a, b model.JobSpec) bool {
	return a.Provider != b.Provider ||
		a.Upstream != b.Upstream ||
		a.Command != b.Command ||
		a.Concurrent != b.Concurrent ||
		a.Interval != b.Interval ||
		a.MemoryLimit != b.MemoryLimit ||
		a.SizePattern != b.SizePattern ||
		!slices.Equal(a.RsyncOptions, b.RsyncOptions) ||
		!maps.Equal(a.AdditionOptions, b.AdditionOptions)
}
