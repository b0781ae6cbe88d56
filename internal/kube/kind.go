package kube

import (
	"context"
	"encoding/json"

	"mirrorctl/internal/manifest"

	"github.com/tidwall/sjson"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
)

type object interface {
	metav1.Object
	runtime.Object
}

// resourceClient is the subset of a typed client-go interface the
// reconciler drives. ConfigMapInterface, ServiceInterface and friends all
// satisfy it for their own type.
type resourceClient[T object] interface {
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Patch(ctx context.Context, name string, pt types.PatchType, data []byte, opts metav1.PatchOptions, subresources ...string) (T, error)
	Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error
}

// Kind is one resource variant the reconciler knows how to compile and
// drive. A nil compile means the kind can only be read and deleted. A nil
// encode patches with the plain JSON of the compiled object.
type Kind[T object] struct {
	Name    string
	client  func(c *Client) resourceClient[T]
	compile func(name string, a manifest.Args) (T, error)
	encode  func(obj T) ([]byte, error)
}

func (k Kind[T]) patch(obj T) ([]byte, error) {
	if k.encode != nil {
		return k.encode(obj)
	}
	return json.Marshal(obj)
}

const nodeSelectorPath = "spec.template.spec.nodeSelector"

// withoutPlacement encodes a workload whose pod template is unpinned. A
// strategic merge patch keeps fields it does not mention, so the selector
// is nulled explicitly.
func withoutPlacement[T object](selector func(T) map[string]string) func(T) ([]byte, error) {
	return func(obj T) ([]byte, error) {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		if len(selector(obj)) > 0 {
			return data, nil
		}
		return sjson.SetRawBytes(data, nodeSelectorPath, []byte("null"))
	}
}

var (
	ConfigMaps = Kind[*corev1.ConfigMap]{
		Name: "configmap",
		client: func(c *Client) resourceClient[*corev1.ConfigMap] {
			return c.cs.CoreV1().ConfigMaps(c.namespace)
		},
		compile: manifest.ConfigMap,
	}

	Services = Kind[*corev1.Service]{
		Name: "service",
		client: func(c *Client) resourceClient[*corev1.Service] {
			return c.cs.CoreV1().Services(c.namespace)
		},
		compile: manifest.Service,
	}

	PersistentVolumeClaims = Kind[*corev1.PersistentVolumeClaim]{
		Name: "pvc",
		client: func(c *Client) resourceClient[*corev1.PersistentVolumeClaim] {
			return c.cs.CoreV1().PersistentVolumeClaims(c.namespace)
		},
		compile: manifest.PersistentVolumeClaim,
	}

	Deployments = Kind[*appsv1.Deployment]{
		Name: "deployment",
		client: func(c *Client) resourceClient[*appsv1.Deployment] {
			return c.cs.AppsV1().Deployments(c.namespace)
		},
		compile: manifest.Deployment,
		encode: withoutPlacement(func(d *appsv1.Deployment) map[string]string {
			return d.Spec.Template.Spec.NodeSelector
		}),
	}

	DaemonSets = Kind[*appsv1.DaemonSet]{
		Name: "daemonset",
		client: func(c *Client) resourceClient[*appsv1.DaemonSet] {
			return c.cs.AppsV1().DaemonSets(c.namespace)
		},
		compile: manifest.DaemonSet,
		encode: withoutPlacement(func(d *appsv1.DaemonSet) map[string]string {
			return d.Spec.Template.Spec.NodeSelector
		}),
	}

	Pods = Kind[*corev1.Pod]{
		Name: "pod",
		client: func(c *Client) resourceClient[*corev1.Pod] {
			return c.cs.CoreV1().Pods(c.namespace)
		},
	}
)
