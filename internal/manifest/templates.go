// Package manifest compiles mirror jobs into Kubernetes objects.
//
// Every function here is pure: the same name and Args always produce the
// same object, which is what lets the reconciler patch blindly.
package manifest

import (
	"fmt"

	"mirrorctl/internal/model"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
)

const (
	WorkerPort     = 6000
	FrontPort      = 80
	FrontAdminPort = 9090

	LabelApp      = "app"
	LabelHostname = "kubernetes.io/hostname"

	ConfigKey              = "worker.conf"
	storageClassAnnotation = "volume.beta.kubernetes.io/storage-class"
)

type Args struct {
	Namespace       string
	StorageClass    string
	DataSize        string
	Port            int32
	Image           string
	Node            string
	ImagePullSecret string
	Volumes         []corev1.Volume
	Mounts          []corev1.VolumeMount
	ManagerAPI      string
	Job             model.JobSpec
}

func PersistentVolumeClaim(name string, a Args) (*corev1.PersistentVolumeClaim, error) {
	size, err := resource.ParseQuantity(a.DataSize)
	if err != nil {
		return nil, fmt.Errorf("invalid data size %q: %w", a.DataSize, err)
	}

	pvc := &corev1.PersistentVolumeClaim{
		TypeMeta:   metav1.TypeMeta{Kind: "PersistentVolumeClaim", APIVersion: "v1"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.Namespace},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}

	if a.StorageClass != "" {
		pvc.Annotations = map[string]string{storageClassAnnotation: a.StorageClass}
		pvc.Spec.StorageClassName = ptr.To(a.StorageClass)
	}

	return pvc, nil
}

func Service(name string, a Args) (*corev1.Service, error) {
	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{Kind: "Service", APIVersion: "v1"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.Namespace, Labels: appLabels(name)},
		Spec: corev1.ServiceSpec{
			Ports: []corev1.ServicePort{{
				Port:       a.Port,
				Protocol:   corev1.ProtocolTCP,
				TargetPort: intstr.FromInt32(a.Port),
			}},
			Selector: appLabels(name),
		},
	}, nil
}

func ConfigMap(name string, a Args) (*corev1.ConfigMap, error) {
	conf, err := WorkerConf(name, a.ManagerAPI, a.Job)
	if err != nil {
		return nil, err
	}

	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{Kind: "ConfigMap", APIVersion: "v1"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.Namespace},
		Data:       map[string]string{ConfigKey: conf},
	}, nil
}

func Deployment(name string, a Args) (*appsv1.Deployment, error) {
	container := corev1.Container{
		Name:            name,
		Image:           a.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		LivenessProbe:   tcpCheck(a.Port, 30),
		ReadinessProbe:  tcpCheck(a.Port, 10),
		VolumeMounts:    a.Mounts,
		Ports: []corev1.ContainerPort{{
			Name:          "api",
			ContainerPort: a.Port,
			Protocol:      corev1.ProtocolTCP,
		}},
	}

	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{Kind: "Deployment", APIVersion: "apps/v1"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.Namespace, Labels: appLabels(name)},
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To[int32](1),
			RevisionHistoryLimit: ptr.To[int32](1),
			Selector:             &metav1.LabelSelector{MatchLabels: appLabels(name)},
			Template:             podTemplate(name, container, a),
		},
	}, nil
}

// DaemonSet compiles the front proxy, which serves every mirror's data.
func DaemonSet(name string, a Args) (*appsv1.DaemonSet, error) {
	container := corev1.Container{
		Name:            name,
		Image:           a.Image,
		ImagePullPolicy: corev1.PullAlways,
		LivenessProbe:   tcpCheck(FrontPort, 30),
		ReadinessProbe:  tcpCheck(FrontPort, 10),
		VolumeMounts:    a.Mounts,
		Ports: []corev1.ContainerPort{
			{Name: "http", ContainerPort: FrontPort, Protocol: corev1.ProtocolTCP},
			{Name: "admin", ContainerPort: FrontAdminPort, Protocol: corev1.ProtocolTCP},
		},
	}

	return &appsv1.DaemonSet{
		TypeMeta:   metav1.TypeMeta{Kind: "DaemonSet", APIVersion: "apps/v1"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.Namespace, Labels: appLabels(name)},
		Spec: appsv1.DaemonSetSpec{
			RevisionHistoryLimit: ptr.To[int32](1),
			Selector:             &metav1.LabelSelector{MatchLabels: appLabels(name)},
			Template:             podTemplate(name, container, a),
		},
	}, nil
}

func podTemplate(name string, container corev1.Container, a Args) corev1.PodTemplateSpec {
	spec := corev1.PodSpec{
		Containers: []corev1.Container{container},
		Volumes:    a.Volumes,
	}

	if a.ImagePullSecret != "" {
		spec.ImagePullSecrets = []corev1.LocalObjectReference{{Name: a.ImagePullSecret}}
	}
	if a.Node != "" {
		spec.NodeSelector = map[string]string{LabelHostname: a.Node}
	}

	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: appLabels(name)},
		Spec:       spec,
	}
}

func tcpCheck(port int32, period int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt32(port)},
		},
		InitialDelaySeconds: 30,
		TimeoutSeconds:      5,
		PeriodSeconds:       period,
		SuccessThreshold:    1,
		FailureThreshold:    5,
	}
}

func appLabels(name string) map[string]string {
	return map[string]string{LabelApp: name}
}
