package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the knobs spec'd as configuration rather than constants.
const (
	DefaultModel           = "claude-sonnet-4-20250514"
	DefaultLoopBudget      = 8                // model<->tool round-trips per user message
	DefaultToolConcurrency = 4                // parallel tool calls within one round
	DefaultToolTimeout     = 30 * time.Second // per backend call
	DefaultModelTimeout    = 120 * time.Second
	DefaultToolOutputCap   = 6000 // runes of tool output forwarded to the model
)

// Config holds runtime configuration. Secrets come from the environment (or a
// .env file during development); never from the repo.
type Config struct {
	// AnthropicAPIKey is set from ANTHROPIC_API_KEY or CLAUDE_API_KEY.
	AnthropicAPIKey string `json:"-"`
	// Model is the Anthropic model id.
	Model string `json:"model"`

	// Datadog credentials; both key pairs accept the DD_* aliases.
	DatadogAPIKey string `json:"-"`
	DatadogAppKey string `json:"-"`
	DatadogSite   string `json:"datadog_site"`

	// PagerDuty REST API token.
	PagerDutyAPIKey string `json:"-"`

	// Kubernetes access goes through a local kubeconfig.
	KubeconfigPath string `json:"kubeconfig_path"`
	K8sEnabled     bool   `json:"k8s_enabled"`

	// AWS SQS. Credentials may also come from the default chain (IAM role).
	AWSRegion    string `json:"aws_region"`
	AWSAccessKey string `json:"-"`
	AWSSecretKey string `json:"-"`
	AWSProfile   string `json:"aws_profile"`
	SQSEnabled   bool   `json:"sqs_enabled"`

	// LoopBudget caps model<->tool round-trips per user message.
	LoopBudget int `json:"loop_budget"`
	// ToolConcurrency bounds parallel tool calls within one round.
	ToolConcurrency int `json:"tool_concurrency"`
	// ToolTimeout / ModelTimeout bound individual backend and inference calls.
	ToolTimeout  time.Duration `json:"-"`
	ModelTimeout time.Duration `json:"-"`
	// ToolOutputMaxRunes caps tool output forwarded to the model (0 = no cap).
	ToolOutputMaxRunes int `json:"tool_output_max_runes"`

	// ConfigDir is where the optional config file and the database live.
	ConfigDir string `json:"-"`
	// DBPath is the path to the sqlite transcript database.
	DBPath string `json:"-"`
	// HTTPAddr is the listen address for -serve mode.
	HTTPAddr string `json:"http_addr"`
}

// DefaultConfigDir returns the project-local .opspilot dir if present, else
// ~/.config/opspilot.
func DefaultConfigDir() string {
	cwd, _ := os.Getwd()
	local := filepath.Join(cwd, ".opspilot")
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "opspilot")
}

// firstEnv returns the first non-empty environment variable among names.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// New builds config from env and optional config dir. configDir can be empty
// to use the default. A .env file in the working directory is loaded first so
// local development matches the deployed env-var surface.
func New(configDir string) *Config {
	_ = godotenv.Load() // absent .env is fine

	if configDir == "" {
		if d := os.Getenv("OPSPILOT_CONFIG_DIR"); d != "" {
			configDir = d
		} else {
			configDir = DefaultConfigDir()
		}
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, _ := os.UserHomeDir()
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	cfg := &Config{
		AnthropicAPIKey: firstEnv("ANTHROPIC_API_KEY", "CLAUDE_API_KEY"),
		Model:           firstEnv("CLAUDE_MODEL"),

		DatadogAPIKey: firstEnv("DATADOG_API_KEY", "DD_API_KEY"),
		DatadogAppKey: firstEnv("DATADOG_APP_KEY", "DD_APP_KEY"),
		DatadogSite:   os.Getenv("DATADOG_SITE"),

		PagerDutyAPIKey: os.Getenv("PAGERDUTY_API_KEY"),

		KubeconfigPath: kubeconfig,
		K8sEnabled:     envBool("K8S_ENABLED", true),

		AWSRegion:    os.Getenv("AWS_REGION"),
		AWSAccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSProfile:   os.Getenv("AWS_PROFILE"),
		SQSEnabled:   envBool("SQS_ENABLED", true),

		LoopBudget:         envInt("OPSPILOT_LOOP_BUDGET", DefaultLoopBudget),
		ToolConcurrency:    envInt("OPSPILOT_TOOL_CONCURRENCY", DefaultToolConcurrency),
		ToolTimeout:        envDuration("OPSPILOT_TOOL_TIMEOUT", DefaultToolTimeout),
		ModelTimeout:       envDuration("OPSPILOT_MODEL_TIMEOUT", DefaultModelTimeout),
		ToolOutputMaxRunes: envInt("OPSPILOT_TOOL_OUTPUT_MAX_RUNES", DefaultToolOutputCap),

		ConfigDir: configDir,
		DBPath:    filepath.Join(configDir, "opspilot.db"),
		HTTPAddr:  os.Getenv("OPSPILOT_HTTP_ADDR"),
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.DatadogSite == "" {
		cfg.DatadogSite = "datadoghq.com"
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-east-1"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8417"
	}
	if cfg.LoopBudget <= 0 {
		cfg.LoopBudget = DefaultLoopBudget
	}
	if cfg.ToolConcurrency <= 0 {
		cfg.ToolConcurrency = DefaultToolConcurrency
	}

	cfg.applyFile()
	return cfg
}

// applyFile overlays non-secret settings from config.json in the config dir,
// if present. Env always wins for secrets; the file wins for tuning knobs it
// sets explicitly.
func (c *Config) applyFile() {
	b, err := os.ReadFile(filepath.Join(c.ConfigDir, "config.json"))
	if err != nil {
		return
	}
	var f Config
	if err := json.Unmarshal(b, &f); err != nil {
		return
	}
	if f.Model != "" {
		c.Model = f.Model
	}
	if f.DatadogSite != "" {
		c.DatadogSite = f.DatadogSite
	}
	if f.KubeconfigPath != "" {
		c.KubeconfigPath = f.KubeconfigPath
	}
	if f.AWSRegion != "" {
		c.AWSRegion = f.AWSRegion
	}
	if f.LoopBudget > 0 {
		c.LoopBudget = f.LoopBudget
	}
	if f.ToolConcurrency > 0 {
		c.ToolConcurrency = f.ToolConcurrency
	}
	if f.ToolOutputMaxRunes > 0 {
		c.ToolOutputMaxRunes = f.ToolOutputMaxRunes
	}
	if f.HTTPAddr != "" {
		c.HTTPAddr = f.HTTPAddr
	}
}
