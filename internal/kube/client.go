// Package kube reads cluster state through kubeconfig contexts. Every
// operation is read-only.
package kube

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

type Client struct {
	kubeconfigPath string

	mu      sync.Mutex
	rawCfg  *clientcmdapi.Config
	clients map[string]kubernetes.Interface
}

func NewClient(kubeconfigPath string) *Client {
	return &Client{
		kubeconfigPath: kubeconfigPath,
		clients:        map[string]kubernetes.Interface{},
	}
}

func (c *Client) load() (*clientcmdapi.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rawCfg != nil {
		return c.rawCfg, nil
	}
	cfg, err := clientcmd.LoadFromFile(c.kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig %s: %w", c.kubeconfigPath, err)
	}
	c.rawCfg = cfg
	return cfg, nil
}

// Context describes one kubeconfig entry.
type Context struct {
	Name      string `json:"name"`
	Cluster   string `json:"cluster"`
	User      string `json:"user"`
	Namespace string `json:"namespace,omitempty"`
	Current   bool   `json:"is_current"`
}

func (c *Client) Contexts() ([]Context, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, err
	}
	out := make([]Context, 0, len(cfg.Contexts))
	for name, kc := range cfg.Contexts {
		out = append(out, Context{
			Name:      name,
			Cluster:   kc.Cluster,
			User:      kc.AuthInfo,
			Namespace: kc.Namespace,
			Current:   name == cfg.CurrentContext,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// clientset returns a cached typed client for the named context.
func (c *Client) clientset(contextName string) (kubernetes.Interface, error) {
	c.mu.Lock()
	if cs, ok := c.clients[contextName]; ok {
		c.mu.Unlock()
		return cs, nil
	}
	c.mu.Unlock()

	cfg, err := c.load()
	if err != nil {
		return nil, err
	}
	if _, ok := cfg.Contexts[contextName]; !ok {
		return nil, fmt.Errorf("unknown kubernetes context %q", contextName)
	}

	restCfg, err := clientcmd.NewNonInteractiveClientConfig(
		*cfg, contextName, &clientcmd.ConfigOverrides{}, nil,
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build client for context %q: %w", contextName, err)
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to context %q: %w", contextName, err)
	}

	c.mu.Lock()
	c.clients[contextName] = cs
	c.mu.Unlock()
	return cs, nil
}

func (c *Client) Namespaces(ctx context.Context, contextName string) ([]corev1.Namespace, error) {
	cs, err := c.clientset(contextName)
	if err != nil {
		return nil, err
	}
	list, err := cs.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list namespaces in %q: %w", contextName, err)
	}
	return list.Items, nil
}

func (c *Client) Pods(ctx context.Context, contextName, namespace string) ([]corev1.Pod, error) {
	cs, err := c.clientset(contextName)
	if err != nil {
		return nil, err
	}
	list, err := cs.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods in %s/%s: %w", contextName, namespace, err)
	}
	return list.Items, nil
}

type LogOptions struct {
	Container    string
	TailLines    int64
	SinceSeconds int64
	Previous     bool
}

func (c *Client) PodLogs(ctx context.Context, contextName, namespace, pod string, opts LogOptions) (string, error) {
	cs, err := c.clientset(contextName)
	if err != nil {
		return "", err
	}

	plo := &corev1.PodLogOptions{
		Container: opts.Container,
		Previous:  opts.Previous,
	}
	if opts.TailLines > 0 {
		plo.TailLines = &opts.TailLines
	}
	if opts.SinceSeconds > 0 {
		plo.SinceSeconds = &opts.SinceSeconds
	}

	stream, err := cs.CoreV1().Pods(namespace).GetLogs(pod, plo).Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch logs for %s/%s/%s: %w", contextName, namespace, pod, err)
	}
	defer stream.Close()

	raw, err := io.ReadAll(io.LimitReader(stream, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read logs for %s/%s/%s: %w", contextName, namespace, pod, err)
	}
	return string(raw), nil
}
