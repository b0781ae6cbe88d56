package manifest

import (
	corev1 "k8s.io/api/core/v1"
)

const (
	// LogClaim is the shared claim holding the manager state and every
	// worker's logs.
	LogClaim = "data"

	ManagerStateDir = "/var/lib/tunasync"
	workerConfDir   = "/etc/tunasync/"
	frontRoot       = "/usr/share/caddy"
)

// DataClaim names the claim that stores a job's mirrored data.
func DataClaim(name string) string {
	return name + "-data"
}

// DataPath is where a job's data claim is mounted inside its worker.
func DataPath(name string) string {
	return MirrorDir + "/" + name
}

func JobVolumes(name string) ([]corev1.Volume, []corev1.VolumeMount) {
	volumes := []corev1.Volume{
		claimVolume(LogClaim, LogClaim),
		claimVolume(DataClaim(name), DataClaim(name)),
		configMapVolume(name, name),
	}
	mounts := []corev1.VolumeMount{
		{Name: LogClaim, MountPath: WorkerLogDir},
		{Name: DataClaim(name), MountPath: DataPath(name)},
		{Name: name, MountPath: workerConfDir},
	}
	return volumes, mounts
}

func ManagerVolumes() ([]corev1.Volume, []corev1.VolumeMount) {
	return []corev1.Volume{claimVolume(LogClaim, LogClaim)},
		[]corev1.VolumeMount{{Name: LogClaim, MountPath: ManagerStateDir}}
}

// FrontVolumes mounts the proxy configuration plus every worker's data,
// read only. The pypi mirror keeps its browsable tree under web/.
func FrontVolumes(workers []string) ([]corev1.Volume, []corev1.VolumeMount) {
	mounts := []corev1.VolumeMount{
		{Name: "caddy-conf", MountPath: "/etc/caddy/Caddyfile", SubPath: "Caddyfile", ReadOnly: true},
		{Name: "static", MountPath: frontRoot + "/static", ReadOnly: true},
		{Name: "status-html", MountPath: frontRoot + "/status.html", SubPath: "status.html", ReadOnly: true},
	}
	volumes := make([]corev1.Volume, 0, len(workers)+3)

	for _, w := range workers {
		if w == "pypi" {
			mounts = append(mounts, corev1.VolumeMount{Name: w, MountPath: frontRoot + "/pypi", SubPath: "web", ReadOnly: true})
		} else {
			mounts = append(mounts, corev1.VolumeMount{Name: w, MountPath: frontRoot + "/" + w, ReadOnly: true})
		}
		volumes = append(volumes, claimVolume(w, DataClaim(w)))
	}

	volumes = append(volumes,
		configMapVolume("caddy-conf", "caddy-conf"),
		configMapVolume("static", "mirrors-static"),
		configMapVolume("status-html", "status-html"),
	)

	return volumes, mounts
}

func claimVolume(name, claim string) corev1.Volume {
	return corev1.Volume{
		Name: name,
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: claim},
		},
	}
}

func configMapVolume(name, configMap string) corev1.Volume {
	return corev1.Volume{
		Name: name,
		VolumeSource: corev1.VolumeSource{
			ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: configMap},
			},
		},
	}
}
