package kube

import (
	"context"
	"fmt"

	"mirrorctl/internal/logger"
	"mirrorctl/internal/manifest"
	"mirrorctl/internal/model"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Pods lists the pods labelled app=<app>, or every pod when app is empty.
func (c *Client) Pods(ctx context.Context, app string, ready bool) ([]model.PodInfo, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	opts := metav1.ListOptions{TimeoutSeconds: c.timeoutSeconds()}
	if app != "" {
		opts.LabelSelector = manifest.LabelApp + "=" + app
	}

	list, err := c.cs.CoreV1().Pods(c.namespace).List(callCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	pods := make([]model.PodInfo, 0, len(list.Items))
	for _, p := range list.Items {
		info := podInfo(p)
		if ready && !info.Ready {
			continue
		}
		pods = append(pods, info)
	}

	return pods, nil
}

func podInfo(p corev1.Pod) model.PodInfo {
	info := model.PodInfo{
		Name:   p.Name,
		Node:   p.Spec.NodeName,
		Status: string(p.Status.Phase),
	}
	if len(p.Status.ContainerStatuses) > 0 {
		info.Image = p.Status.ContainerStatuses[0].Image
		info.Ready = p.Status.ContainerStatuses[0].Ready
	}
	return info
}

// Usage returns the first container's resource usage from metrics-server,
// or nil when metrics are unavailable.
func (c *Client) Usage(ctx context.Context, pod string) map[string]string {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	m, err := c.metrics.MetricsV1beta1().PodMetricses(c.namespace).Get(callCtx, pod, metav1.GetOptions{})
	if err != nil {
		logger.Log.Debug("failed to read pod metrics",
			zap.String("pod", pod),
			zap.Error(err))
		return nil
	}

	if len(m.Containers) == 0 {
		return nil
	}

	usage := make(map[string]string, len(m.Containers[0].Usage))
	for name, q := range m.Containers[0].Usage {
		usage[string(name)] = q.String()
	}
	return usage
}

// Nodes returns the hostname label of every node in the cluster.
func (c *Client) Nodes(ctx context.Context) ([]string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	list, err := c.cs.CoreV1().Nodes().List(callCtx, metav1.ListOptions{TimeoutSeconds: c.timeoutSeconds()})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]string, 0, len(list.Items))
	for _, n := range list.Items {
		if host, ok := n.Labels[manifest.LabelHostname]; ok {
			nodes = append(nodes, host)
		}
	}
	return nodes, nil
}

// WorkerConf reads a job's rendered worker configuration.
func (c *Client) WorkerConf(ctx context.Context, name string) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	cm, err := c.cs.CoreV1().ConfigMaps(c.namespace).Get(callCtx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get config map %s: %w", name, err)
	}

	conf, ok := cm.Data[manifest.ConfigKey]
	if !ok {
		return "", fmt.Errorf("config map %s has no %s", name, manifest.ConfigKey)
	}
	return conf, nil
}

// ClaimSize returns the requested storage of a claim, or "" if unreadable.
func (c *Client) ClaimSize(ctx context.Context, name string) string {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	pvc, err := c.cs.CoreV1().PersistentVolumeClaims(c.namespace).Get(callCtx, name, metav1.GetOptions{})
	if err != nil {
		logger.Log.Warn("failed to get claim",
			zap.String("name", name),
			zap.Error(err))
		return ""
	}

	q, ok := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	if !ok {
		return ""
	}
	return q.String()
}

// Placement returns the pinned node (if any) and image of a deployment.
func (c *Client) Placement(ctx context.Context, name string) (node, image string, err error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	d, err := c.cs.AppsV1().Deployments(c.namespace).Get(callCtx, name, metav1.GetOptions{})
	if err != nil {
		return "", "", fmt.Errorf("failed to get deployment %s: %w", name, err)
	}

	spec := d.Spec.Template.Spec
	node = spec.NodeSelector[manifest.LabelHostname]
	if len(spec.Containers) > 0 {
		image = spec.Containers[0].Image
	}
	return node, image, nil
}

// Exec runs a command in the pod and returns its output.
func (c *Client) Exec(ctx context.Context, pod string, command []string) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	return c.exec.Exec(callCtx, c.namespace, pod, command)
}

// Restart force deletes every pod of the app and lets its controller
// recreate them. All pods are attempted even if one fails.
func (c *Client) Restart(ctx context.Context, app string) bool {
	pods, err := c.Pods(ctx, app, false)
	if err != nil {
		logger.Log.Warn("failed to list pods for restart",
			zap.String("app", app),
			zap.Error(err))
		return false
	}

	success := true
	for _, p := range pods {
		if !Delete(ctx, c, Pods, p.Name, true) {
			success = false
		}
	}
	return success
}

func (c *Client) timeoutSeconds() *int64 {
	s := int64(c.timeout.Seconds())
	if s < 1 {
		s = 1
	}
	return &s
}
