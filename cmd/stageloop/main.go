package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zen-systems/stageloop/pkg/agent"
	"github.com/zen-systems/stageloop/pkg/config"
	"github.com/zen-systems/stageloop/pkg/hooks"
	"github.com/zen-systems/stageloop/pkg/manifest"
	"github.com/zen-systems/stageloop/pkg/pipeline"
	"github.com/zen-systems/stageloop/pkg/prompt"
	"github.com/zen-systems/stageloop/pkg/session"
	"github.com/zen-systems/stageloop/pkg/stats"
)

// Exit codes for scripted callers: a paused run is not a failure, but the
// caller has to know the run did not finish.
const (
	exitOK     = 0
	exitFailed = 1
	exitPaused = 3
)

var (
	agentFlag   string
	modelFlag   string
	promptDir   string
	sessionDir  string
	maxIter     int
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stageloop",
		Short: "Autonomous multi-stage agent pipeline runner",
		Long: `Stageloop drives an LLM agent through a staged pipeline: each stage
	prompts the agent in a loop until it emits a completion signal, then a
	transition table decides the next stage. Runs persist after every
	transition and can pause for human input and resume later.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&agentFlag, "agent", "", "agent backend (anthropic, openai, google, mock)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "model override for all stages")
	rootCmd.PersistentFlags().StringVar(&promptDir, "prompt-dir", "", "directory prompt references resolve against")
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", "", "session storage directory")
	rootCmd.PersistentFlags().IntVar(&maxIter, "max-iterations", 0, "run-wide turn budget")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log stage progress")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFailed)
	}
}

func runCmd() *cobra.Command {
	var pipelineFile string
	var manifestFile string
	var contextPairs []string

	cmd := &cobra.Command{
		Use:   "run [pipeline] [task]",
		Short: "Start a pipeline run",
		Long: `Starts a pipeline from its first stage. The pipeline is a built-in
	kind (build, plan), or --pipeline-file names a YAML definition, or
	--manifest names a frontmatter document that carries the pipeline,
	context, and task body together.

	Exit code 0 means the run completed, 3 means it paused for input,
	1 means it failed.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := config.Load()
			if err != nil {
				return err
			}

			var cfg *pipeline.Config
			var m *manifest.Manifest
			initial := pipeline.NewContext()

			switch {
			case manifestFile != "":
				m, err = manifest.Load(manifestFile)
				if err != nil {
					return err
				}
				cfg, err = pipeline.Builtin(m.Meta.Pipeline)
				if err != nil {
					return err
				}
				applyManifest(m)
				for _, key := range sortedKeys(m.Meta.Context) {
					initial.Set(key, m.Meta.Context[key])
				}
				if m.Body != "" {
					initial.Set("task", m.Body)
				}
			case pipelineFile != "":
				cfg, err = pipeline.LoadDefinition(pipelineFile)
				if err != nil {
					return err
				}
				if len(args) > 0 {
					initial.Set("task", args[len(args)-1])
				}
			case len(args) > 0:
				cfg, err = pipeline.Builtin(args[0])
				if err != nil {
					return err
				}
				if len(args) > 1 {
					initial.Set("task", args[1])
				}
			default:
				return fmt.Errorf("name a pipeline, or pass --pipeline-file or --manifest")
			}

			for _, pair := range contextPairs {
				key, value, found := strings.Cut(pair, "=")
				if !found {
					return fmt.Errorf("--context wants key=value, got %q", pair)
				}
				initial.Set(key, value)
			}

			sess := pipeline.NewSession(cfg, initial)
			if err := execute(cmd, appCfg, cfg, sess); err != nil {
				return err
			}

			// A manifest may ask for the build pipeline to follow a
			// completed plan, carrying the planning context forward.
			if m != nil && m.Meta.RunBuild && cfg.Name != "build" {
				buildCfg, err := pipeline.Builtin("build")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "manifest requests build, starting build pipeline")
				buildSess := pipeline.NewSession(buildCfg, sess.Context.Clone())
				return execute(cmd, appCfg, buildCfg, buildSess)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineFile, "pipeline-file", "", "YAML pipeline definition")
	cmd.Flags().StringVar(&manifestFile, "manifest", "", "run manifest with frontmatter")
	cmd.Flags().StringArrayVar(&contextPairs, "context", nil, "initial context entry (key=value, repeatable)")
	return cmd
}

func resumeCmd() *cobra.Command {
	var sessionID string
	var pipelineFile string

	cmd := &cobra.Command{
		Use:   "resume [pipeline]",
		Short: "Resume a paused run",
		Long: `Re-enters a paused session at the stage it paused in. Without
	--session the most recently updated session of the kind is resumed.
	Completed and failed runs cannot be resumed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := config.Load()
			if err != nil {
				return err
			}

			var cfg *pipeline.Config
			switch {
			case pipelineFile != "":
				cfg, err = pipeline.LoadDefinition(pipelineFile)
			case len(args) == 1:
				cfg, err = pipeline.Builtin(args[0])
			default:
				return fmt.Errorf("name a pipeline or pass --pipeline-file")
			}
			if err != nil {
				return err
			}

			store := sessionStore(appCfg)
			sess, err := store.Resume(cfg.Name, sessionID)
			if err != nil {
				if errors.Is(err, session.ErrNotResumable) || errors.Is(err, session.ErrNotFound) {
					return err
				}
				return fmt.Errorf("resume: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resuming session %s at stage %s\n", sess.ID, sess.CurrentStage)
			if sess.PauseReason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "was paused: %s\n", sess.PauseReason)
			}
			return execute(cmd, appCfg, cfg, sess)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: latest paused)")
	cmd.Flags().StringVar(&pipelineFile, "pipeline-file", "", "YAML pipeline definition the session belongs to")
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted sessions",
	}

	list := &cobra.Command{
		Use:   "list [pipeline]",
		Short: "List sessions of a pipeline kind, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := config.Load()
			if err != nil {
				return err
			}
			sessions, err := sessionStore(appCfg).List(args[0])
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no %s sessions\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTAGE\tTURNS\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Status, s.CurrentStage, s.TotalTurns,
					s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show [pipeline] [session-id]",
		Short: "Print one session as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := config.Load()
			if err != nil {
				return err
			}
			sess, err := sessionStore(appCfg).Load(args[0], args[1])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	clean := &cobra.Command{
		Use:   "clean [pipeline]",
		Short: "Remove completed and failed sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := config.Load()
			if err != nil {
				return err
			}
			removed, err := sessionStore(appCfg).Clean(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d session(s)\n", removed)
			return nil
		},
	}

	cmd.AddCommand(list, show, clean)
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pipeline-file]",
		Short: "Validate a pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pipeline.LoadDefinition(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d stages, start at %s\n",
				cfg.Name, len(cfg.Stages), cfg.StartStage)
			return nil
		},
	}
}

// execute wires up a runner and exits the process with the outcome code.
func execute(cmd *cobra.Command, appCfg *config.Config, cfg *pipeline.Config, sess *pipeline.Session) error {
	agentName := agentFlag
	if agentName == "" {
		agentName = appCfg.Agent
	}
	model := modelFlag
	if model == "" {
		model = appCfg.Model
	}

	runner, err := buildAgent(agentName, appCfg)
	if err != nil {
		return err
	}

	collector := stats.NewCollector(agentName, model, appCfg.Pricing)
	iterations := maxIter
	if iterations == 0 {
		iterations = appCfg.MaxIterations
	}
	baseDir := promptDir
	if baseDir == "" {
		baseDir = appCfg.PromptDir
	}

	exec := &pipeline.Runner{
		Agent:         runner,
		Render:        prompt.New(baseDir),
		Store:         sessionStore(appCfg),
		Hooks:         hooks.ForPipeline(cfg.Name),
		Events:        collector.Sink(),
		Model:         model,
		MaxIterations: iterations,
	}
	if verboseFlag {
		exec.Logger = log.Printf
	}

	status, err := exec.Run(cmd.Context(), cfg, sess)
	fmt.Fprint(cmd.OutOrStdout(), collector.Summary())

	switch status {
	case pipeline.StatusCompleted:
		fmt.Fprintf(cmd.OutOrStdout(), "session %s completed\n", sess.ID)
		return nil
	case pipeline.StatusPaused:
		fmt.Fprintf(cmd.OutOrStdout(), "session %s paused: %s\n", sess.ID, sess.PauseReason)
		fmt.Fprintf(cmd.OutOrStdout(), "resume with: stageloop resume %s\n", cfg.Name)
		os.Exit(exitPaused)
		return nil
	default:
		fmt.Fprintf(cmd.ErrOrStderr(), "session %s failed: %v\n", sess.ID, err)
		os.Exit(exitFailed)
		return nil
	}
}

func buildAgent(name string, appCfg *config.Config) (agent.Runner, error) {
	if name == "mock" {
		return agent.NewMockRunner(), nil
	}
	if !appCfg.HasAgent(name) {
		switch name {
		case "anthropic", "openai", "google":
			return nil, fmt.Errorf("no API key configured for %s (set %s_API_KEY or api_keys in config)", name, strings.ToUpper(name))
		default:
			return nil, fmt.Errorf("unknown agent %q (available: anthropic, openai, google, mock)", name)
		}
	}
	switch name {
	case "anthropic":
		return agent.NewAnthropicRunner(appCfg.AnthropicAPIKey)
	case "openai":
		return agent.NewOpenAIRunner(appCfg.OpenAIAPIKey)
	default:
		return agent.NewGoogleRunner(appCfg.GoogleAPIKey)
	}
}

func sessionStore(appCfg *config.Config) *session.Store {
	dir := sessionDir
	if dir == "" {
		dir = appCfg.SessionDir
	}
	return session.NewStore(dir)
}

func applyManifest(m *manifest.Manifest) {
	if agentFlag == "" && m.Meta.Agent != "" {
		agentFlag = m.Meta.Agent
	}
	if modelFlag == "" && m.Meta.Model != "" {
		modelFlag = m.Meta.Model
	}
	if maxIter == 0 && m.Meta.MaxIterations > 0 {
		maxIter = m.Meta.MaxIterations
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
