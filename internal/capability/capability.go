// Package capability decides, once per process, which integration families
// have enough configuration to be offered to the model. Probes are cheap and
// local: credential material present, kubeconfig readable. No probe performs
// network IO, and a failing probe disables its family without affecting the
// others or startup.
package capability

import (
	"log"
	"os"
	"sort"

	"github.com/opspilot/opspilot/internal/config"
	"github.com/opspilot/opspilot/internal/core"
)

// Set is the families currently enabled.
type Set map[core.Family]bool

// Has reports whether family f is enabled.
func (s Set) Has(f core.Family) bool { return s[f] }

// Families returns the enabled families sorted by name.
func (s Set) Families() []core.Family {
	out := make([]core.Family, 0, len(s))
	for f, on := range s {
		if on {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Probe computes the capability set from config. Pure with respect to the
// process: it reads config values and stats the kubeconfig path, nothing else.
func Probe(cfg *config.Config) Set {
	s := Set{
		core.FamilyMetrics:   probeDatadog(cfg),
		core.FamilyIncidents: probePagerDuty(cfg),
		core.FamilyCluster:   probeKubernetes(cfg),
		core.FamilyQueue:     probeSQS(cfg),
	}
	for _, f := range core.Families() {
		if !s[f] {
			log.Printf("[CAPABILITY] family %s disabled (not configured)", f)
		}
	}
	return s
}

func probeDatadog(cfg *config.Config) bool {
	return cfg.DatadogAPIKey != "" && cfg.DatadogAppKey != ""
}

func probePagerDuty(cfg *config.Config) bool {
	return cfg.PagerDutyAPIKey != ""
}

func probeKubernetes(cfg *config.Config) bool {
	if !cfg.K8sEnabled || cfg.KubeconfigPath == "" {
		return false
	}
	info, err := os.Stat(cfg.KubeconfigPath)
	return err == nil && !info.IsDir()
}

func probeSQS(cfg *config.Config) bool {
	if !cfg.SQSEnabled || cfg.AWSRegion == "" {
		return false
	}
	// Explicit keys, a named profile, or ambient credentials (IAM role,
	// default profile) all work; require at least one explicit signal so a
	// bare laptop without AWS setup does not advertise queue tools.
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		return true
	}
	if cfg.AWSProfile != "" {
		return true
	}
	if os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE") != "" || os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") != "" {
		return true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	if _, err := os.Stat(home + "/.aws/credentials"); err == nil {
		return true
	}
	return false
}
