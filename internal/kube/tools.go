package kube

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/opspilot/opspilot/internal/core"
	"github.com/opspilot/opspilot/internal/tools"
)

const maxTailLines = 10000

type getContextsArgs struct{}

type getNamespacesArgs struct {
	Context string `json:"context" jsonschema:"required,description=Kubernetes context name"`
}

type listPodsArgs struct {
	Context   string `json:"context" jsonschema:"required,description=Kubernetes context name"`
	Namespace string `json:"namespace" jsonschema:"required,description=Namespace name"`
}

type getPodLogsArgs struct {
	Context       string `json:"context" jsonschema:"required,description=Kubernetes context name"`
	Namespace     string `json:"namespace" jsonschema:"required,description=Namespace name"`
	PodName       string `json:"pod_name" jsonschema:"required,description=Pod name"`
	ContainerName string `json:"container_name,omitempty" jsonschema:"description=Container name (required for multi-container pods)"`
	TailLines     int    `json:"tail_lines,omitempty" jsonschema:"description=Number of lines to retrieve (default 100 and max 10000)"`
	SinceSeconds  int    `json:"since_seconds,omitempty" jsonschema:"description=Only return logs newer than N seconds"`
	Previous      bool   `json:"previous,omitempty" jsonschema:"description=If true get logs from the previous container instance (for crashed pods)"`
}

// Tools returns the cluster-family tool set backed by c.
func Tools(c *Client) []tools.Tool {
	return []tools.Tool{
		tools.NewFunc("k8s_get_contexts", core.FamilyCluster, true,
			"List available Kubernetes cluster contexts from local kubeconfig. Use to see which clusters are available.",
			func(ctx context.Context, _ getContextsArgs) (string, error) {
				return getContexts(c)
			}),
		tools.NewFunc("k8s_get_namespaces", core.FamilyCluster, true,
			"List namespaces in a Kubernetes cluster. Use after selecting a cluster context to see available namespaces.",
			func(ctx context.Context, a getNamespacesArgs) (string, error) {
				return getNamespaces(ctx, c, a)
			}),
		tools.NewFunc("k8s_list_pods", core.FamilyCluster, true,
			"List all pods in a namespace with their status, restarts, and age. Use this to see what pods are running before fetching logs.",
			func(ctx context.Context, a listPodsArgs) (string, error) {
				return listPods(ctx, c, a)
			}),
		tools.NewFunc("k8s_get_pod_logs", core.FamilyCluster, true,
			"Fetch logs from a pod in real time. For crashed pods use previous=true. For multi-container pods specify container_name.",
			func(ctx context.Context, a getPodLogsArgs) (string, error) {
				return getPodLogs(ctx, c, a)
			}),
	}
}

func getContexts(c *Client) (string, error) {
	contexts, err := c.Contexts()
	if err != nil {
		return "", err
	}
	return tools.RenderJSON(map[string]any{
		"contexts": contexts,
		"count":    len(contexts),
	})
}

func getNamespaces(ctx context.Context, c *Client, a getNamespacesArgs) (string, error) {
	namespaces, err := c.Namespaces(ctx, a.Context)
	if err != nil {
		return "", err
	}

	type nsOut struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Age    string `json:"age"`
	}
	rows := make([]nsOut, 0, len(namespaces))
	for _, ns := range namespaces {
		rows = append(rows, nsOut{
			Name:   ns.Name,
			Status: string(ns.Status.Phase),
			Age:    age(ns.CreationTimestamp.Time),
		})
	}
	return tools.RenderJSON(map[string]any{
		"context":    a.Context,
		"namespaces": rows,
		"count":      len(rows),
	})
}

func listPods(ctx context.Context, c *Client, a listPodsArgs) (string, error) {
	pods, err := c.Pods(ctx, a.Context, a.Namespace)
	if err != nil {
		return "", err
	}

	type podOut struct {
		Name       string   `json:"name"`
		Status     string   `json:"status"`
		Ready      string   `json:"ready"`
		Restarts   int32    `json:"restarts"`
		Age        string   `json:"age"`
		Node       string   `json:"node,omitempty"`
		Containers []string `json:"containers"`
	}

	rows := make([]podOut, 0, len(pods))
	notRunning := 0
	for _, p := range pods {
		status, ready, restarts := podStatus(p)
		if status != string(corev1.PodRunning) && status != "Completed" {
			notRunning++
		}
		containers := make([]string, 0, len(p.Spec.Containers))
		for _, c := range p.Spec.Containers {
			containers = append(containers, c.Name)
		}
		rows = append(rows, podOut{
			Name:       p.Name,
			Status:     status,
			Ready:      ready,
			Restarts:   restarts,
			Age:        age(p.CreationTimestamp.Time),
			Node:       p.Spec.NodeName,
			Containers: containers,
		})
	}

	return tools.RenderJSON(map[string]any{
		"context":     a.Context,
		"namespace":   a.Namespace,
		"pods":        rows,
		"count":       len(rows),
		"not_running": notRunning,
	})
}

// podStatus mirrors the status column kubectl shows: waiting reasons
// like CrashLoopBackOff take precedence over the bare phase.
func podStatus(p corev1.Pod) (status, ready string, restarts int32) {
	status = string(p.Status.Phase)
	readyCount := 0
	for _, cs := range p.Status.ContainerStatuses {
		restarts += cs.RestartCount
		if cs.Ready {
			readyCount++
		}
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			status = cs.State.Waiting.Reason
		}
		if cs.State.Terminated != nil && cs.State.Terminated.Reason == "Completed" {
			status = "Completed"
		}
	}
	ready = fmt.Sprintf("%d/%d", readyCount, len(p.Spec.Containers))
	return status, ready, restarts
}

func getPodLogs(ctx context.Context, c *Client, a getPodLogsArgs) (string, error) {
	tail := a.TailLines
	if tail <= 0 {
		tail = 100
	}
	if tail > maxTailLines {
		tail = maxTailLines
	}

	logs, err := c.PodLogs(ctx, a.Context, a.Namespace, a.PodName, LogOptions{
		Container:    a.ContainerName,
		TailLines:    int64(tail),
		SinceSeconds: int64(a.SinceSeconds),
		Previous:     a.Previous,
	})
	if err != nil {
		return "", err
	}

	lineCount := 0
	if logs != "" {
		lineCount = strings.Count(logs, "\n")
		if !strings.HasSuffix(logs, "\n") {
			lineCount++
		}
	}

	return tools.RenderJSON(map[string]any{
		"context":   a.Context,
		"namespace": a.Namespace,
		"pod":       a.PodName,
		"container": a.ContainerName,
		"previous":  a.Previous,
		"lines":     lineCount,
		"logs":      logs,
	})
}

func age(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}
