package kube

import (
	"context"

	"mirrorctl/internal/logger"
	"mirrorctl/internal/manifest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
)

var reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mirrorctl_reconcile_total",
	Help: "Control plane write operations by kind, operation and result.",
}, []string{"kind", "op", "result"})

var stripFinalizers = []byte(`{"metadata":{"finalizers":null}}`)

// Apply makes the named resource match its compiled document, creating it
// when absent and patching it otherwise. It never returns an error: any
// failure is logged and reported as false.
func Apply[T object](ctx context.Context, c *Client, k Kind[T], name string, a manifest.Args) bool {
	log := logger.Log.With(zap.String("kind", k.Name), zap.String("name", name))

	if k.compile == nil {
		log.Warn("kind cannot be applied")
		return false
	}

	a.Namespace = c.namespace
	desired, err := k.compile(name, a)
	if err != nil {
		log.Warn("failed to compile resource", zap.Error(err))
		observe(k.Name, "compile", err)
		return false
	}

	rc := k.client(c)

	found, err := exists(ctx, c, rc, name)
	if err != nil {
		log.Warn("failed to get resource", zap.Error(err))
		observe(k.Name, "get", err)
		return false
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if !found {
		_, err = rc.Create(callCtx, desired, metav1.CreateOptions{})
		observe(k.Name, "create", err)
		if err != nil {
			log.Warn("failed to create resource", zap.Error(err))
			return false
		}
		log.Debug("resource created")
		return true
	}

	data, err := k.patch(desired)
	if err != nil {
		log.Warn("failed to encode patch", zap.Error(err))
		return false
	}

	_, err = rc.Patch(callCtx, name, types.StrategicMergePatchType, data, metav1.PatchOptions{})
	observe(k.Name, "patch", err)
	if err != nil {
		log.Warn("failed to patch resource", zap.Error(err))
		return false
	}

	log.Debug("resource patched")
	return true
}

// Delete removes the named resource with a zero grace period. With force,
// finalizers are stripped first so the object cannot linger.
func Delete[T object](ctx context.Context, c *Client, k Kind[T], name string, force bool) bool {
	log := logger.Log.With(zap.String("kind", k.Name), zap.String("name", name))
	rc := k.client(c)

	if force {
		getCtx, cancel := c.callContext(ctx)
		current, err := rc.Get(getCtx, name, metav1.GetOptions{})
		cancel()
		if err != nil {
			log.Warn("failed to get resource", zap.Error(err))
			observe(k.Name, "get", err)
			return false
		}

		if len(current.GetFinalizers()) > 0 {
			patchCtx, cancel := c.callContext(ctx)
			_, err = rc.Patch(patchCtx, name, types.MergePatchType, stripFinalizers, metav1.PatchOptions{})
			cancel()
			observe(k.Name, "patch", err)
			if err != nil {
				log.Warn("failed to strip finalizers", zap.Error(err))
				return false
			}
		}
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	err := rc.Delete(callCtx, name, metav1.DeleteOptions{GracePeriodSeconds: ptr.To[int64](0)})
	observe(k.Name, "delete", err)
	if err != nil {
		log.Warn("failed to delete resource", zap.Error(err))
		return false
	}

	log.Debug("resource deleted")
	return true
}

// Exists reports whether the named resource is present. NotFound is not an
// error.
func Exists[T object](ctx context.Context, c *Client, k Kind[T], name string) (bool, error) {
	return exists(ctx, c, k.client(c), name)
}

func exists[T object](ctx context.Context, c *Client, rc resourceClient[T], name string) (bool, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	_, err := rc.Get(callCtx, name, metav1.GetOptions{})
	switch {
	case err == nil:
		return true, nil
	case apierrors.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func observe(kind, op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	reconcileTotal.WithLabelValues(kind, op, result).Inc()
}
