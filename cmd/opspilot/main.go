// Opspilot answers plain-language questions about production health by
// driving Datadog, PagerDuty, Kubernetes, and SQS tools through an
// Anthropic model. It runs as an interactive console by default and as
// an HTTP server with -serve.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opspilot/opspilot/internal/agent"
	"github.com/opspilot/opspilot/internal/anthropic"
	"github.com/opspilot/opspilot/internal/capability"
	"github.com/opspilot/opspilot/internal/config"
	"github.com/opspilot/opspilot/internal/core"
	"github.com/opspilot/opspilot/internal/datadog"
	"github.com/opspilot/opspilot/internal/httpapi"
	"github.com/opspilot/opspilot/internal/kube"
	"github.com/opspilot/opspilot/internal/pagerduty"
	"github.com/opspilot/opspilot/internal/session"
	sqstools "github.com/opspilot/opspilot/internal/sqs"
	"github.com/opspilot/opspilot/internal/store"
	"github.com/opspilot/opspilot/internal/tools"
)

func main() {
	var (
		serve     = flag.Bool("serve", false, "run the HTTP server instead of the console")
		addr      = flag.String("addr", "", "HTTP listen address (overrides config)")
		configDir = flag.String("config-dir", "", "config directory (default ~/.config/opspilot)")
		sessionID = flag.String("session", "", "resume a stored console session by id")
	)
	flag.Parse()

	cfg := config.New(*configDir)
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	if err := run(cfg, *serve, *sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, serve bool, sessionID string) error {
	if cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	caps := capability.Probe(cfg)

	var sets [][]tools.Tool
	if caps.Has(core.FamilyMetrics) {
		sets = append(sets, datadog.Tools(datadog.NewClient(cfg.DatadogAPIKey, cfg.DatadogAppKey, cfg.DatadogSite)))
	}
	if caps.Has(core.FamilyIncidents) {
		sets = append(sets, pagerduty.Tools(pagerduty.NewClient(cfg.PagerDutyAPIKey)))
	}
	if caps.Has(core.FamilyCluster) {
		sets = append(sets, kube.Tools(kube.NewClient(cfg.KubeconfigPath)))
	}
	if caps.Has(core.FamilyQueue) {
		sqsClient, err := sqstools.NewClient(ctx, cfg.AWSRegion, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.AWSProfile)
		if err != nil {
			log.Printf("[MAIN] sqs client unavailable: %v", err)
			delete(caps, core.FamilyQueue)
		} else {
			sets = append(sets, sqstools.Tools(sqsClient))
		}
	}

	registry, err := tools.NewRegistry(sets...)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	executor := tools.NewExecutor(registry, caps, cfg.ToolConcurrency, cfg.ToolTimeout, cfg.ToolOutputMaxRunes)

	if err := os.MkdirAll(cfg.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer db.Close()

	model := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.Model)
	prompt := agent.BuildSystemPrompt(caps)
	loop := agent.NewLoop(model, executor, prompt, cfg.LoopBudget, cfg.ModelTimeout, db)

	manager, err := agent.NewManager(loop, db, 0)
	if err != nil {
		return fmt.Errorf("build session manager: %w", err)
	}
	defer manager.Close()

	log.Printf("[MAIN] model %s, %d tool(s), families: %v", cfg.Model, len(executor.Descriptors()), caps.Families())

	if serve {
		srv := &httpapi.Server{
			Addr:    cfg.HTTPAddr,
			Manager: manager,
			Caps:    caps,
			Model:   cfg.Model,
		}
		return srv.Run()
	}
	return console(ctx, manager, caps, sessionID)
}

// console reads questions from stdin and prints streamed answers.
func console(ctx context.Context, manager *agent.Manager, caps capability.Set, sessionID string) error {
	if sessionID == "" {
		sessionID = session.New("").ID
	}
	fmt.Printf("opspilot console (session %s)\n", sessionID)
	if families := caps.Families(); len(families) > 0 {
		fmt.Printf("enabled integrations: %v\n", families)
	} else {
		fmt.Println("no integrations configured; answers will be general-knowledge only")
	}
	fmt.Println(`type a question, or "exit" to quit`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		_, events, err := manager.Submit(ctx, sessionID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printEvents(ctx, events)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func printEvents(ctx context.Context, events <-chan agent.Event) {
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n(interrupted)")
			return
		case ev, ok := <-events:
			if !ok {
				fmt.Println()
				return
			}
			switch ev.Type {
			case agent.EventToken:
				fmt.Print(ev.Text)
			case agent.EventToolStarted:
				fmt.Printf("\n  [tool] %s running...\n", ev.ToolName)
			case agent.EventToolFinished:
				status := "ok"
				if !ev.OK {
					status = "failed"
				}
				fmt.Printf("  [tool] %s %s\n", ev.ToolName, status)
			case agent.EventError:
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Text)
			}
		}
	}
}
