package kube

import (
	"context"
	"fmt"
	"time"

	"mirrorctl/internal/config"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Client is the control plane as seen by the rest of the service: a typed
// resource store in one namespace plus exec, metrics and node listing.
// Every call it makes is bounded by timeout.
type Client struct {
	cs        kubernetes.Interface
	metrics   metricsv.Interface
	exec      Executor
	namespace string
	timeout   time.Duration
}

func New(cs kubernetes.Interface, metrics metricsv.Interface, exec Executor, namespace string, timeout time.Duration) *Client {
	return &Client{
		cs:        cs,
		metrics:   metrics,
		exec:      exec,
		namespace: namespace,
		timeout:   timeout,
	}
}

func NewFromConfig(cfg *config.Config) (*Client, error) {
	restCfg, err := restConfig(cfg.APIServer)
	if err != nil {
		return nil, err
	}
	restCfg.Timeout = cfg.Timeout

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	mc, err := metricsv.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}

	return New(cs, mc, NewSPDYExecutor(restCfg, cs), cfg.Namespace, cfg.Timeout), nil
}

func restConfig(api config.APIServer) (*rest.Config, error) {
	if api.URL == "" {
		c, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
		}
		if api.Token != "" {
			c.BearerToken = api.Token
			c.BearerTokenFile = ""
		}
		return c, nil
	}

	c := &rest.Config{
		Host:        api.URL,
		BearerToken: api.Token,
	}
	if api.CA != "" {
		c.TLSClientConfig.CAFile = api.CA
	} else {
		c.TLSClientConfig.Insecure = true
	}

	return c, nil
}

func (c *Client) Namespace() string {
	return c.namespace
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}
