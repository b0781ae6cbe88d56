package manifest

import (
	"testing"

	"mirrorctl/internal/model"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	corev1 "k8s.io/api/core/v1"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const managerAPI = "http://tunasync-manager:14242"

func rsyncSpec() model.JobSpec {
	return model.JobSpec{
		Name:         "debian",
		Upstream:     "rsync://mirrors.example.org/debian/",
		Provider:     model.ProviderRsync,
		Concurrent:   3,
		Interval:     1440,
		RsyncOptions: model.Options{"-av", "--delete"},
	}
}

func decodeMirror(t *testing.T, conf string) (map[string]any, map[string]any) {
	t.Helper()

	var doc map[string]any
	require.NoError(t, toml.Unmarshal([]byte(conf), &doc))

	mirrors, ok := doc["mirrors"].([]any)
	require.True(t, ok, "mirrors must be an array of tables")
	require.Len(t, mirrors, 1)

	return doc, mirrors[0].(map[string]any)
}

func TestWorkerConfDeterministic(t *testing.T) {
	spec := rsyncSpec()
	spec.AdditionOptions = map[string]string{"B": "2", "A": "1", "C": "3"}

	first, err := WorkerConf("debian", managerAPI, spec)
	require.NoError(t, err)

	for range 10 {
		again, err := WorkerConf("debian", managerAPI, spec)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestWorkerConfSections(t *testing.T) {
	conf, err := WorkerConf("debian", managerAPI, rsyncSpec())
	require.NoError(t, err)

	doc, mirror := decodeMirror(t, conf)

	global := doc["global"].(map[string]any)
	require.Equal(t, "debian", global["name"])
	require.Equal(t, MirrorDir, global["mirror_dir"])
	require.Equal(t, "/var/log/tunasync/debian", global["log_dir"])
	require.EqualValues(t, 3, global["retry"])
	require.EqualValues(t, 3, global["concurrent"])
	require.EqualValues(t, 1440, global["interval"])

	require.Equal(t, managerAPI, doc["manager"].(map[string]any)["api_base"])
	require.Equal(t, false, doc["cgroup"].(map[string]any)["enable"])
	require.EqualValues(t, WorkerPort, doc["server"].(map[string]any)["listen_port"])

	require.Equal(t, "rsync", mirror["provider"])
	require.Equal(t, []any{"-av", "--delete", ProgressFlag}, mirror["rsync_options"])
	require.NotContains(t, mirror, "command")
	require.NotContains(t, mirror, "stage1_profile")
	require.NotContains(t, mirror, "memory_limit")
	require.NotContains(t, mirror, "size_pattern")
	require.NotContains(t, mirror, "env")
}

func TestWorkerConfProviders(t *testing.T) {
	t.Run("progress flag is not duplicated", func(t *testing.T) {
		spec := rsyncSpec()
		spec.RsyncOptions = model.Options{ProgressFlag, "-a"}

		conf, err := WorkerConf("debian", managerAPI, spec)
		require.NoError(t, err)

		_, mirror := decodeMirror(t, conf)
		require.Equal(t, []any{ProgressFlag, "-a"}, mirror["rsync_options"])
	})

	t.Run("rsync without options still reports progress", func(t *testing.T) {
		spec := rsyncSpec()
		spec.RsyncOptions = nil

		conf, err := WorkerConf("debian", managerAPI, spec)
		require.NoError(t, err)

		_, mirror := decodeMirror(t, conf)
		require.Equal(t, []any{ProgressFlag}, mirror["rsync_options"])
	})

	t.Run("two stage rsync", func(t *testing.T) {
		spec := rsyncSpec()
		spec.Provider = model.ProviderTwoStageRsync

		conf, err := WorkerConf("debian", managerAPI, spec)
		require.NoError(t, err)

		_, mirror := decodeMirror(t, conf)
		require.Equal(t, Stage1Profile, mirror["stage1_profile"])
		require.Contains(t, mirror["rsync_options"], ProgressFlag)
	})

	t.Run("command", func(t *testing.T) {
		spec := model.JobSpec{
			Upstream:   "https://api.github.com/repos/",
			Provider:   model.ProviderCommand,
			Command:    "/usr/local/bin/github-release.py",
			Concurrent: 1,
			Interval:   60,
			AdditionOptions: map[string]string{
				"REPOS": "a/b;c/d",
			},
			MemoryLimit: "512M",
			SizePattern: `size: ([0-9\.]+[KMGTP]?)`,
		}

		conf, err := WorkerConf("github-release", managerAPI, spec)
		require.NoError(t, err)

		_, mirror := decodeMirror(t, conf)
		require.Equal(t, spec.Command, mirror["command"])
		require.NotContains(t, mirror, "rsync_options")
		require.Equal(t, "512M", mirror["memory_limit"])
		require.Equal(t, spec.SizePattern, mirror["size_pattern"])
		require.Equal(t, map[string]any{"REPOS": "a/b;c/d"}, mirror["env"])
	})
}

func TestWorkerConfRoundTrip(t *testing.T) {
	spec := rsyncSpec()
	spec.Provider = model.ProviderTwoStageRsync
	spec.MemoryLimit = "1G"
	spec.SizePattern = `Total size: ([0-9\.]+[KMGTP]?)\\n`
	spec.AdditionOptions = map[string]string{"RSYNC_PROXY": "proxy:3128"}

	first, err := WorkerConf("debian", managerAPI, spec)
	require.NoError(t, err)

	parsed, err := ParseWorkerConf(first)
	require.NoError(t, err)
	require.Equal(t, "debian", parsed.Name)
	require.Equal(t, spec.Upstream, parsed.Upstream)
	require.Equal(t, spec.Provider, parsed.Provider)
	require.Equal(t, spec.RsyncOptions, parsed.RsyncOptions)
	require.Equal(t, spec.SizePattern, parsed.SizePattern)
	require.Equal(t, spec.AdditionOptions, parsed.AdditionOptions)

	second, err := WorkerConf("debian", managerAPI, parsed)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestParseWorkerConfErrors(t *testing.T) {
	_, err := ParseWorkerConf("not = [valid")
	require.Error(t, err)

	_, err = ParseWorkerConf("[global]\nname = 'x'\n")
	require.ErrorIs(t, err, ErrNoMirror)
}

func TestPersistentVolumeClaim(t *testing.T) {
	pvc, err := PersistentVolumeClaim("debian-data", Args{Namespace: "mirrors", StorageClass: "nfs", DataSize: "2Ti"})
	require.NoError(t, err)

	require.Equal(t, "mirrors", pvc.Namespace)
	require.Equal(t, "nfs", *pvc.Spec.StorageClassName)
	require.Equal(t, "nfs", pvc.Annotations[storageClassAnnotation])
	require.Equal(t, []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany}, pvc.Spec.AccessModes)
	storage := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	require.Equal(t, "2Ti", storage.String())

	_, err = PersistentVolumeClaim("debian-data", Args{DataSize: "lots"})
	require.Error(t, err)
}

func TestService(t *testing.T) {
	svc, err := Service("debian", Args{Namespace: "mirrors", Port: WorkerPort})
	require.NoError(t, err)

	require.Equal(t, map[string]string{LabelApp: "debian"}, svc.Spec.Selector)
	require.Len(t, svc.Spec.Ports, 1)
	require.EqualValues(t, WorkerPort, svc.Spec.Ports[0].Port)
	require.EqualValues(t, WorkerPort, svc.Spec.Ports[0].TargetPort.IntVal)
}

func TestDeployment(t *testing.T) {
	volumes, mounts := JobVolumes("debian")

	t.Run("optional fields omitted", func(t *testing.T) {
		d, err := Deployment("debian", Args{Image: model.DefaultImage, Port: WorkerPort, Volumes: volumes, Mounts: mounts})
		require.NoError(t, err)

		pod := d.Spec.Template.Spec
		require.Nil(t, pod.NodeSelector)
		require.Nil(t, pod.ImagePullSecrets)
		require.EqualValues(t, 1, *d.Spec.Replicas)

		c := pod.Containers[0]
		require.Equal(t, model.DefaultImage, c.Image)
		require.EqualValues(t, WorkerPort, c.LivenessProbe.TCPSocket.Port.IntVal)
		require.EqualValues(t, 30, c.LivenessProbe.InitialDelaySeconds)
		require.EqualValues(t, 5, c.LivenessProbe.TimeoutSeconds)
		require.EqualValues(t, 30, c.LivenessProbe.PeriodSeconds)
		require.EqualValues(t, 10, c.ReadinessProbe.PeriodSeconds)
		require.EqualValues(t, 5, c.ReadinessProbe.FailureThreshold)

		paths := make([]string, 0, len(c.VolumeMounts))
		for _, m := range c.VolumeMounts {
			paths = append(paths, m.MountPath)
		}
		require.Equal(t, []string{WorkerLogDir, "/data/mirrors/debian", "/etc/tunasync/"}, paths)
		require.Equal(t, "debian-data", pod.Volumes[1].PersistentVolumeClaim.ClaimName)
		require.Equal(t, "debian", pod.Volumes[2].ConfigMap.Name)
	})

	t.Run("placement and pull secret", func(t *testing.T) {
		d, err := Deployment("debian", Args{Image: "img", Port: WorkerPort, Node: "node-1", ImagePullSecret: "regcred"})
		require.NoError(t, err)

		pod := d.Spec.Template.Spec
		require.Equal(t, map[string]string{LabelHostname: "node-1"}, pod.NodeSelector)
		require.Equal(t, "regcred", pod.ImagePullSecrets[0].Name)
	})
}

func TestDaemonSet(t *testing.T) {
	volumes, mounts := FrontVolumes([]string{"debian", "pypi"})

	ds, err := DaemonSet("front", Args{Image: "caddy", Volumes: volumes, Mounts: mounts})
	require.NoError(t, err)

	c := ds.Spec.Template.Spec.Containers[0]
	require.Equal(t, corev1.PullAlways, c.ImagePullPolicy)
	require.EqualValues(t, FrontPort, c.ReadinessProbe.TCPSocket.Port.IntVal)
	require.Len(t, c.Ports, 2)

	var pypi corev1.VolumeMount
	for _, m := range c.VolumeMounts {
		if m.Name == "pypi" {
			pypi = m
		}
	}
	require.Equal(t, "web", pypi.SubPath)
	require.Equal(t, "/usr/share/caddy/pypi", pypi.MountPath)
	require.Equal(t, "debian-data", ds.Spec.Template.Spec.Volumes[0].PersistentVolumeClaim.ClaimName)
	require.Len(t, ds.Spec.Template.Spec.Volumes, 5)
}
