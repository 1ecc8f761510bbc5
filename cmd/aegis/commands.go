package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aegis/internal/async"
	"aegis/internal/config"
	"aegis/internal/history"
	"aegis/internal/logging"
	"aegis/internal/pipeline"
	"aegis/internal/safety"
	"aegis/internal/toolregistry"
	"aegis/internal/trace"
	"aegis/internal/txn"
)

const configFileHint = config.DefaultFileName

func openStore() (*config.Store, error) {
	logger := logging.NewComponentLogger("config")
	if rootFlags.configPath != "" {
		return config.NewStore(logger, config.WithPath(rootFlags.configPath))
	}
	return config.NewStore(logger)
}

func loadClassifier(store *config.Store) (*safety.Classifier, error) {
	settings := store.Settings()
	rules := safety.DefaultRules()
	if settings.RulesFile != "" {
		loaded, err := safety.LoadRules(settings.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("load rules overlay: %w", err)
		}
		rules = loaded
	}
	return safety.NewClassifier(rules), nil
}

// batchFile is the on-disk shape `check` and `gate` consume.
type batchFile struct {
	Calls       []safety.ToolCall `json:"calls"`
	ExecutedIDs []string          `json:"executed_ids,omitempty"`
}

// readBatch loads a batch from a file, or from stdin when path is "-".
func readBatch(path string) (batchFile, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return batchFile{}, fmt.Errorf("read batch file: %w", err)
	}
	var batch batchFile
	if err := json.Unmarshal(data, &batch); err != nil {
		return batchFile{}, fmt.Errorf("parse batch file: %w", err)
	}
	return batch, nil
}

func newCheckCmd() *cobra.Command {
	var (
		command   string
		untrusted bool
		workdir   string
	)

	cmd := &cobra.Command{
		Use:   "check [batch.json]",
		Short: "Classify a batch (or a single shell command) without executing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			classifier, err := loadClassifier(store)
			if err != nil {
				return err
			}

			var calls []safety.ToolCall
			switch {
			case command != "":
				calls = []safety.ToolCall{{ID: "cli-1", Name: "bash", Arguments: map[string]any{"command": command}}}
			case len(args) == 1:
				batch, err := readBatch(args[0])
				if err != nil {
					return err
				}
				calls = batch.Calls
			default:
				return fmt.Errorf("pass a batch file or --command")
			}

			ctx := safety.Context{
				WorkingDirectory: resolveWorkdir(workdir, store),
				InputTrustLevel:  trustLevel(untrusted),
			}
			assessment := classifier.Assess(calls, ctx)
			printAssessment(assessment)
			return nil
		},
	}
	cmd.Flags().StringVarP(&command, "command", "c", "", "classify a single shell command")
	cmd.Flags().BoolVar(&untrusted, "untrusted", false, "treat the driving input as untrusted")
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory for escape detection (default from config, then cwd)")
	return cmd
}

func newGateCmd() *cobra.Command {
	var (
		userText      string
		untrusted     bool
		workdir       string
		alwaysApprove bool
		dryRun        bool
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "gate <batch.json|->",
		Short: "Gate a batch end to end: classify, resolve, execute under a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			classifier, err := loadClassifier(store)
			if err != nil {
				return err
			}
			batch, err := readBatch(args[0])
			if err != nil {
				return err
			}

			settings := store.Settings()
			collector, err := trace.NewCollector(trace.Config{Enabled: settings.MetricsEnabled || metricsAddr != ""})
			if err != nil {
				return err
			}
			metricsServer := serveMetrics(metricsAddr, collector)

			executor := pipeline.ExecutorFunc(func(ctx context.Context, call safety.ToolCall) (string, error) {
				if dryRun {
					return "dry-run: " + call.Name, nil
				}
				// The CLI has no live agent loop behind it; report what would run.
				return "accepted: " + call.Name, nil
			})
			gate := pipeline.NewGate(
				classifier,
				txn.NewManager(nil, logging.NewComponentLogger("txn")),
				executor,
				collector,
				logging.NewComponentLogger("gate"),
			)

			result := gate.Run(cmd.Context(), pipeline.Request{
				Calls:       batch.Calls,
				ExecutedIDs: batch.ExecutedIDs,
				Settings: safety.Settings{
					AlwaysApproveTools: alwaysApprove || settings.AlwaysApproveTools,
					UserText:           userText,
					InputTrustLevel:    trustLevel(untrusted),
				},
				Context: safety.Context{
					WorkingDirectory: resolveWorkdir(workdir, store),
					InputTrustLevel:  trustLevel(untrusted),
				},
			})

			printDecision(result)

			if metricsServer != nil {
				fmt.Printf("%s\n", gray("serving /metrics on "+metricsAddr+", interrupt to exit"))
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userText, "user-text", "", "user text evaluated for approval phrases")
	cmd.Flags().BoolVar(&untrusted, "untrusted", false, "treat the driving input as untrusted")
	cmd.Flags().StringVar(&workdir, "workdir", "", "transaction root and escape-detection base")
	cmd.Flags().BoolVar(&alwaysApprove, "always-approve", false, "auto-approve batches that only need explicit approval")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and report without executing")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve a Prometheus /metrics endpoint on this address and keep running")
	return cmd
}

// serveMetrics mounts the collector's scrape handler and returns the running
// server, or nil when addr is empty.
func serveMetrics(addr string, collector *trace.Collector) *http.Server {
	if addr == "" {
		return nil
	}
	logger := logging.NewComponentLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	async.Go(logger, "metrics.serve", func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed: %v", err)
		}
	})
	return server
}

func newServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage external tool servers",
	}
	cmd.AddCommand(newServersAddCmd())
	cmd.AddCommand(newServersRemoveCmd())
	cmd.AddCommand(newServersToggleCmd())
	cmd.AddCommand(newServersListCmd())
	return cmd
}

func newServerManager(store *config.Store) *toolregistry.Manager {
	registry := toolregistry.NewRegistry()
	return toolregistry.NewManager(registry, store, logging.NewComponentLogger("servers"))
}

func newServersAddCmd() *cobra.Command {
	var (
		transport string
		command   string
		cmdArgs   []string
		env       []string
		url       string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Connect a tool server, register its tools, persist its config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			envMap, err := parseEnv(env)
			if err != nil {
				return err
			}

			manager := newServerManager(store)
			defer func() { _ = manager.Close() }()

			err = manager.AddServer(cmd.Context(), config.ServerConfig{
				Name:      args[0],
				Transport: config.Transport(transport),
				Command:   command,
				Args:      cmdArgs,
				Env:       envMap,
				URL:       url,
			})
			if err != nil {
				return err
			}

			status, _ := manager.ServerStatus(args[0])
			fmt.Printf("%s server %s registered %d tool(s)\n", green("✓"), bold(args[0]), status.ToolCount)
			for _, tool := range status.Tools {
				fmt.Printf("  %s %s\n", gray("-"), tool)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "transport: stdio or sse")
	cmd.Flags().StringVar(&command, "command", "", "command to spawn (stdio)")
	cmd.Flags().StringArrayVar(&cmdArgs, "arg", nil, "argument for the spawned command (repeatable)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE for the spawned command (repeatable)")
	cmd.Flags().StringVar(&url, "url", "", "event-stream URL (sse)")
	return cmd
}

func newServersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Disconnect a server and delete its config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			manager := newServerManager(store)
			if err := manager.RemoveServer(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s server %s removed\n", green("✓"), bold(args[0]))
			return nil
		},
	}
}

func newServersToggleCmd() *cobra.Command {
	var enable, disable bool

	cmd := &cobra.Command{
		Use:   "toggle <name>",
		Short: "Enable or disable a configured server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if enable == disable {
				return fmt.Errorf("pass exactly one of --enable or --disable")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			manager := newServerManager(store)
			defer func() { _ = manager.Close() }()

			if err := manager.ToggleServer(cmd.Context(), args[0], enable); err != nil {
				return err
			}
			state := "disabled"
			if enable {
				state = "enabled"
			}
			fmt.Printf("%s server %s %s\n", green("✓"), bold(args[0]), state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "enable the server")
	cmd.Flags().BoolVar(&disable, "disable", false, "disable the server")
	return cmd
}

func newServersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every configured server and its registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			manager := newServerManager(store)
			statuses := manager.ListServers()
			if len(statuses) == 0 {
				fmt.Println(gray("no servers configured"))
				return nil
			}
			for _, status := range statuses {
				state := red("disabled")
				if status.Enabled {
					state = green("enabled")
				}
				fmt.Printf("%s  %s  %s\n", bold(status.Name), gray(string(status.Transport)), state)
				if status.LastError != "" {
					fmt.Printf("  %s %s\n", red("last error:"), status.LastError)
				}
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var legacyOut bool

	cmd := &cobra.Command{
		Use:   "history <file>",
		Short: "Normalize an approval-history file (legacy lines and structured entries)",
		Long: "Reads a history file where each line is either a structured JSON entry or a\n" +
			"legacy `[timestamp] decision: summary` line, merges and deduplicates them,\n" +
			"and prints the normalized record.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read history file: %w", err)
			}

			var legacy []string
			var structured []history.Entry
			for _, line := range strings.Split(string(data), "\n") {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if strings.HasPrefix(line, "{") {
					var entry history.Entry
					if err := json.Unmarshal([]byte(line), &entry); err == nil {
						structured = append(structured, entry)
						continue
					}
				}
				legacy = append(legacy, line)
			}

			merged := history.Merge(legacy, structured)
			sort.SliceStable(merged, func(i, j int) bool {
				return merged[i].Timestamp.Before(merged[j].Timestamp)
			})

			if legacyOut {
				for _, entry := range merged {
					fmt.Println(history.FormatLegacy(entry))
				}
				return nil
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(merged)
		},
	}
	cmd.Flags().BoolVar(&legacyOut, "legacy", false, "print in the legacy line format")
	return cmd
}

func resolveWorkdir(flag string, store *config.Store) string {
	if flag != "" {
		return flag
	}
	if dir := store.Settings().WorkingDirectory; dir != "" {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

func trustLevel(untrusted bool) safety.TrustLevel {
	if untrusted {
		return safety.TrustUntrusted
	}
	return safety.TrustTrusted
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

func printAssessment(assessment safety.RiskAssessment) {
	fmt.Printf("%s %s\n", bold("risk:"), colorRisk(assessment.Level))
	printFindings("dangerous", assessment.Dangerous, red)
	printFindings("explicit approval", assessment.RequiresExplicitApproval, yellow)
	printFindings("mandatory approval", assessment.MandatoryApproval, red)
	if len(assessment.Dangerous)+len(assessment.RequiresExplicitApproval)+len(assessment.MandatoryApproval) == 0 {
		fmt.Println(green("no findings"))
	}
}

func printFindings(label string, findings []safety.Finding, paint func(a ...interface{}) string) {
	for _, finding := range findings {
		detail := finding.Reason
		if finding.Detail != "" {
			detail += ": " + finding.Detail
		}
		if finding.CallID != "" {
			detail += gray(" (" + finding.CallID + ")")
		}
		fmt.Printf("  %s %s\n", paint(label), detail)
	}
}

func colorRisk(level safety.RiskLevel) string {
	switch level {
	case safety.RiskHigh:
		return red(string(level))
	case safety.RiskMedium:
		return yellow(string(level))
	default:
		return green(string(level))
	}
}

func printDecision(result pipeline.Result) {
	switch result.Decision.Status {
	case safety.StatusApproved:
		fmt.Printf("%s %s\n", green("✓ approved"), gray(string(result.Outcome)))
	case safety.StatusFeedback:
		fmt.Printf("%s %s\n", yellow("⏸ held"), result.Decision.Note)
	case safety.StatusDenied:
		fmt.Printf("%s %s\n", red("✗ denied"), result.Decision.Note)
	}
	for _, output := range result.Outputs {
		fmt.Printf("  %s %s\n", cyan("→"), output)
	}
	if result.ExecErr != nil {
		fmt.Printf("  %s %v\n", red("execution:"), result.ExecErr)
		if result.RolledBack {
			fmt.Printf("  %s\n", yellow("filesystem changes were rolled back"))
		}
	}
	if len(result.ExecutedIDs) > 0 {
		fmt.Printf("  %s %s\n", gray("executed ids:"), gray(strings.Join(result.ExecutedIDs, ", ")))
	}
}
