package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"inquest/internal/config"
	"inquest/internal/engine"
	"inquest/internal/extract"
	"inquest/internal/fetch"
	"inquest/internal/llm"
	"inquest/internal/logging"
	"inquest/internal/search"
	"inquest/internal/store"
	"inquest/internal/synthesis"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	timeout   time.Duration
	depth     int
	feedback  string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "inquest",
	Short: "inquest - Iterative research sessions from the command line",
	Long: `inquest researches a question in stages: it asks clarifying questions,
takes your feedback, then runs repeated search / retrieve / extract /
synthesize rounds, each building on the last, until it produces a final
cited answer.

Sessions are durable. Re-run the same question to advance it; a finished
question starts over.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// askCmd advances the research session for a question by one step.
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question, or advance its running session",
	Long: `Advances the research session for the question by one step.

The first call returns clarifying questions. Answer them with --feedback
on the next call. Each further call runs one research stage; the last
stage returns the final synthesized answer.

Example:
  inquest ask "What is quantum entanglement?"
  inquest ask "What is quantum entanglement?" --feedback "Focus on practical applications"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// sessionsCmd lists stored sessions.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored research sessions",
	RunE:  runSessions,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	askCmd.Flags().StringVarP(&feedback, "feedback", "f", "", "Answers to the session's clarifying questions")
	askCmd.Flags().IntVarP(&depth, "depth", "d", 0, "Research stages for a new session (default from config)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	question := strings.Join(args, " ")
	logger.Info("Advancing session", zap.String("question", question))

	ws, cfg, err := loadWorkspaceConfig()
	if err != nil {
		return err
	}

	if err := logging.Initialize(ws); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.CloseAll()

	key := apiKey
	if key == "" {
		key = cfg.LLM.APIKey
	}
	client, err := llm.NewGenAIClient(key, cfg.LLM.Model)
	if err != nil {
		return err
	}

	st, err := store.New(resolvePath(ws, cfg.Storage.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer st.Close()

	var fetcher fetch.Fetcher
	if cfg.Fetch.UseBrowser {
		rodFetcher, err := fetch.NewRodFetcher(cfg.GetFetchTimeout(), cfg.Fetch.IncludeLinks)
		if err != nil {
			return fmt.Errorf("failed to start browser fetcher: %w", err)
		}
		defer rodFetcher.Close()
		fetcher = rodFetcher
	} else {
		fetcher = fetch.NewHTTPFetcher(cfg.Search.UserAgent, cfg.GetFetchTimeout(), cfg.Fetch.IncludeLinks)
	}

	retriever := fetch.NewRetriever(fetcher, fetch.Options{
		MaxSources:     cfg.Session.MaxSources,
		SizeBudget:     cfg.Fetch.SizeBudget,
		MinDelay:       time.Duration(cfg.Fetch.MinDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Fetch.MaxDelayMs) * time.Millisecond,
		BlockedDomains: cfg.Fetch.BlockedDomains,
		CacheTTL:       cfg.GetCacheTTL(),
	})

	backends := search.DefaultBackends(cfg.Search.UserAgent, cfg.GetSearchTimeout())

	sessionDepth := cfg.Session.Depth
	if depth > 0 {
		sessionDepth = depth
	}

	eng := engine.New(st, client, engine.Collaborators{
		Aggregator:  search.NewAggregator(client, backends, cfg.Search.MaxResultsPerCategory),
		Retriever:   retriever,
		Extractor:   extract.NewExtractor(client),
		Synthesizer: synthesis.NewSynthesizer(client),
	}, sessionDepth)

	out, err := eng.Run(ctx, engine.Inputs{Question: question, Feedback: feedback})
	if err != nil {
		return err
	}

	printOutput(out)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ws, cfg, err := loadWorkspaceConfig()
	if err != nil {
		return err
	}

	st, err := store.New(resolvePath(ws, cfg.Storage.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer st.Close()

	sessions, err := st.ListSessions(50)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%s  %-18s depth=%d  %s\n",
			s.CreatedAt.Format("2006-01-02 15:04"), s.State, s.Depth, s.Question)
	}
	return nil
}

func loadWorkspaceConfig() (string, *config.Config, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
	}

	cfg, err := config.Load(filepath.Join(ws, ".inquest", "config.yaml"))
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	return ws, cfg, nil
}

func resolvePath(ws, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ws, path)
}

func printOutput(out *engine.Output) {
	fmt.Println(out.Response)

	if out.Questions != "" {
		fmt.Println()
		fmt.Println(out.Questions)
	}

	if len(out.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range out.Sources {
			fmt.Printf("  [%d] %s\n      %s\n", s.ID, s.Title, s.URL)
		}
	}

	if out.NextTopics != "" {
		fmt.Println("\nNext topics to explore:")
		fmt.Println(out.NextTopics)
		fmt.Println("\nRun the same question again to research the next stage.")
	}
}
