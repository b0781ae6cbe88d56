package kube

import (
	"bytes"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// Executor runs a command inside a pod's first container.
type Executor interface {
	Exec(ctx context.Context, namespace, pod string, command []string) (string, error)
}

type spdyExecutor struct {
	config *rest.Config
	cs     kubernetes.Interface
}

func NewSPDYExecutor(config *rest.Config, cs kubernetes.Interface) Executor {
	return &spdyExecutor{config: config, cs: cs}
}

func (e *spdyExecutor) Exec(ctx context.Context, namespace, pod string, command []string) (string, error) {
	req := e.cs.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: command,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	ex, err := remotecommand.NewSPDYExecutor(e.config, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("failed to create executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = ex.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return "", fmt.Errorf("exec in %s failed: %w: %s", pod, err, stderr.String())
	}

	return stdout.String(), nil
}
