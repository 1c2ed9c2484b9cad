// chainctl drives multi-step prompt chains: it prepares each step's
// prompt with quality-gate instructions injected, tracks progress in a
// durable session store, and resumes interrupted chains.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/chain"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/config"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/gates"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/pipeline"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/prompt"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/session"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chainctl",
	Short: "chainctl - prompt chain execution and gate injection",
	Long: `chainctl orchestrates multi-step chains of prompt executions,
tracking partial progress in a durable session store and injecting
quality-gate instructions into each step's prompt template.

Chains are defined in YAML under the chains directory; sessions survive
process restarts and can be resumed by session id or chain identity.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return logging.Initialize(workspace)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [chain-or-prompt-id]",
	Short: "Execute the next step of a chain (or a single prompt)",
	Long: `Derives an execution plan for the given id, creates or resumes a
session, resolves the applicable quality gates, and emits the next
step's prepared prompt.

Example:
  chainctl run code-review --arg code=main.go --gate code-quality`,
	Args: cobra.ExactArgs(1),
	RunE: runChain,
}

var completeCmd = &cobra.Command{
	Use:   "complete [session-id] [step-id]",
	Short: "Record a step's result and report the next unblocked step",
	Args:  cobra.ExactArgs(2),
	RunE:  completeStep,
}

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show a session's chain progress",
	Args:  cobra.ExactArgs(1),
	RunE:  showStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the run history, most recent first",
	RunE:  showHistory,
}

var clearCmd = &cobra.Command{
	Use:   "clear [session-id]",
	Short: "Remove a session (idempotent)",
	Args:  cobra.ExactArgs(1),
	RunE:  clearSession,
}

var (
	runArgs     []string
	runGates    []string
	resumeID    string
	stepOutput  string
	failedGates []string
	failReason  string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory")

	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "Chain argument as key=value (repeatable)")
	runCmd.Flags().StringArrayVar(&runGates, "gate", nil, "Inline gate name (repeatable)")
	runCmd.Flags().StringVar(&resumeID, "resume", "", "Session id to resume")

	completeCmd.Flags().StringVar(&stepOutput, "output", "", "The step's output text")
	completeCmd.Flags().StringArrayVar(&failedGates, "failed-gate", nil, "Gate that failed evaluation (repeatable)")
	completeCmd.Flags().StringVar(&failReason, "reason", "", "Why the gate evaluation failed")

	rootCmd.AddCommand(runCmd, completeCmd, statusCmd, historyCmd, clearCmd)
}

// runtime holds the wired components for one invocation.
type runtime struct {
	cfg    *config.Config
	store  *store.SessionStore
	chains map[string]*chain.Definition
	runner *pipeline.Runner

	backend *store.SQLiteBackend
}

func setup() (*runtime, error) {
	cfg, err := config.Load(filepath.Join(workspace, ".chainctl", "config.yaml"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	backend, err := store.NewSQLiteBackend(dbPath)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSessionStore(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	chainsDir := cfg.Chains.Directory
	if !filepath.IsAbs(chainsDir) {
		chainsDir = filepath.Join(workspace, chainsDir)
	}
	chains := map[string]*chain.Definition{}
	if _, statErr := os.Stat(chainsDir); statErr == nil {
		chains, err = chain.LoadDirectory(chainsDir)
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	prompts, err := loadPrompts(filepath.Join(workspace, "prompts"))
	if err != nil {
		backend.Close()
		return nil, err
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Chains:         chains,
		Store:          st,
		Prompts:        prompts,
		Renderer:       textGuidanceRenderer{},
		Framework:      cfg.Gates.Framework,
		FrameworkGates: configGates(cfg.Gates.FrameworkGates),
		CategoryGates:  configGateMap(cfg.Gates.Categories),
		FallbackGates:  configGates(cfg.Gates.Fallback),
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, store: st, chains: chains, runner: runner, backend: backend}, nil
}

func (rt *runtime) close() {
	if err := rt.backend.Close(); err != nil {
		logger.Warn("Failed to close session database", zap.Error(err))
	}
}

func runChain(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	parsed := &session.ParsedCommand{
		PromptID:    args[0],
		RawArgs:     parseKeyValues(runArgs),
		InlineGates: runGates,
		Resume:      session.ResumeMetadata{SessionID: resumeID},
	}
	if resumeID == "" {
		// Continue an already-started chain without a session id.
		parsed.Resume.ChainID = args[0]
	}

	logger.Info("Executing pipeline run", zap.String("id", args[0]), zap.String("resume", resumeID))

	em, err := rt.runner.Execute(parsed)
	if err != nil {
		return err
	}

	if em.Done {
		fmt.Printf("Chain %s is complete (session %s).\n", em.Session.ChainID, em.Session.SessionID)
		return nil
	}

	fmt.Printf("Session: %s\n", em.Session.SessionID)
	if em.Step != nil {
		fmt.Printf("Step:    %s (%d/%d)\n", em.Step.ID, em.Session.CurrentStep, em.Session.TotalSteps)
	}
	if len(em.Gates) > 0 {
		fmt.Printf("Gates:   %s\n", strings.Join(gates.Names(em.Gates), ", "))
	}
	if em.Injection.Outcome == gates.OutcomeDegraded {
		logger.Warn("Gate injection degraded", zap.Error(em.Injection.Err))
	}
	fmt.Println("\n--- prompt ---")
	fmt.Println(em.Prompt.UserMessageTemplate)
	return nil
}

func completeStep(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	eval := &pipeline.GateEvaluation{Passed: len(failedGates) == 0}
	if !eval.Passed {
		eval.FailedGates = failedGates
		eval.Reason = failReason
	}

	res, err := rt.runner.CompleteStep(args[0], args[1], stepOutput, eval)
	if err != nil {
		return err
	}

	if res.PendingReview != nil {
		fmt.Printf("Gate review pending on step %s: %s\n",
			res.PendingReview.StepID, strings.Join(res.PendingReview.GateIDs, ", "))
	}
	if res.Done {
		fmt.Println("Chain complete.")
		return nil
	}
	if res.NextStep != nil {
		fmt.Printf("Next step: %s\n", res.NextStep.ID)
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	sess, ok := rt.store.GetSession(args[0])
	if !ok {
		return fmt.Errorf("session not found: %s", args[0])
	}

	def := rt.chains[sess.ChainID]
	if def == nil {
		def = rt.chains[store.BaseChainID(sess.ChainID)]
	}
	fmt.Print(renderStatus(sess, def))
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ids, err := rt.store.GetRunHistory()
	if err != nil {
		return err
	}
	fmt.Print(renderHistory(ids, rt.store))
	return nil
}

func clearSession(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.store.ClearSession(args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s cleared.\n", args[0])
	return nil
}

// textGuidanceRenderer renders plain-text gate guidance. A template
// engine can replace this without touching the injector.
type textGuidanceRenderer struct{}

func (textGuidanceRenderer) RenderGuidance(gateIDs []string, ctx gates.RenderContext) (string, error) {
	if len(gateIDs) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Before responding, verify your output satisfies these quality gates:\n")
	for _, id := range gateIDs {
		b.WriteString(fmt.Sprintf("  - %s\n", id))
	}
	if ctx.Framework != "" {
		b.WriteString(fmt.Sprintf("Apply the %s methodology throughout.\n", ctx.Framework))
	}
	return b.String(), nil
}

// promptFile is the on-disk shape of one prompt template.
type promptFile struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category"`
	Template string   `yaml:"template"`
	Gates    []string `yaml:"gates,omitempty"`
}

// loadPrompts reads prompt templates from a directory into a Source.
// A missing directory yields an empty source, not an error.
func loadPrompts(dir string) (prompt.Source, error) {
	src := prompt.MapSource{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return src, nil
		}
		return nil, fmt.Errorf("failed to read prompts directory %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var pf promptFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			logger.Warn("Skipping unreadable prompt file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if pf.ID == "" {
			pf.ID = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		src[pf.ID] = &prompt.ConvertedPrompt{
			ID:                  pf.ID,
			Category:            pf.Category,
			UserMessageTemplate: pf.Template,
			Gates:               pf.Gates,
		}
	}
	return src, nil
}

func parseKeyValues(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, found := strings.Cut(p, "=")
		if !found {
			out[p] = ""
			continue
		}
		out[k] = v
	}
	return out
}

func configGates(gs []config.GateConfig) []gates.Gate {
	out := make([]gates.Gate, 0, len(gs))
	for _, g := range gs {
		out = append(out, gates.Gate{
			Name:    g.Name,
			Mode:    gates.VerificationMode(g.Mode),
			Command: g.Command,
		})
	}
	return out
}

func configGateMap(m map[string][]config.GateConfig) map[string][]gates.Gate {
	out := make(map[string][]gates.Gate, len(m))
	for k, v := range m {
		out[k] = configGates(v)
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
