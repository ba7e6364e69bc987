package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hindsight-dev/hindsight/internal/config"
	"github.com/hindsight-dev/hindsight/internal/database"
	"github.com/hindsight-dev/hindsight/internal/llm"
	"github.com/hindsight-dev/hindsight/internal/logging"
	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/pipeline"
	"github.com/hindsight-dev/hindsight/internal/search"
	"github.com/hindsight-dev/hindsight/internal/server"
	"github.com/hindsight-dev/hindsight/internal/vecindex"
	"github.com/hindsight-dev/hindsight/internal/wscache"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hindsight",
	Short:   "Engineering activity memory",
	Long:    "Hindsight ingests engineering events from GitHub, Vercel, and issue trackers into a searchable observation store with entity, cluster, and actor context.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "DEBUG"
		}
		logging.Init(cfg.Logging.JSON, logging.ParseLevel(level))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hindsight", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/hindsight/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the embedding provider and server port.")
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion and search API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, idx, err := openStores()
		if err != nil {
			return err
		}
		defer db.Close()
		defer idx.Close()

		p, e, cache := buildEngine(db, idx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, p, e, cache, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

// --- ingest command ---

var (
	ingestFile   string
	replayFailed bool
	ingestWS     string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest NDJSON source events from a file or stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, idx, err := openStores()
		if err != nil {
			return err
		}
		defer db.Close()
		defer idx.Close()

		p, _, _ := buildEngine(db, idx)
		ctx := context.Background()

		if replayFailed {
			if ingestWS == "" {
				return fmt.Errorf("--workspace is required with --replay-failed")
			}
			result, err := p.ReplayFailed(ctx, ingestWS)
			if err != nil {
				return err
			}
			fmt.Printf("Replayed: %d\nStill failing: %d\n", result.Replayed, result.Failed)
			return nil
		}

		var in io.Reader = os.Stdin
		if ingestFile != "" {
			f, err := os.Open(ingestFile)
			if err != nil {
				return fmt.Errorf("opening events file: %w", err)
			}
			defer f.Close()
			in = f
		}

		processed, failed := 0, 0
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev model.SourceEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				fmt.Fprintf(os.Stderr, "skipping undecodable line: %v\n", err)
				failed++
				continue
			}
			if _, err := p.Process(ctx, ev); err != nil {
				fmt.Fprintf(os.Stderr, "event %s failed: %v\n", ev.SourceID, err)
				failed++
				continue
			}
			processed++
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading events: %w", err)
		}

		fmt.Printf("\nIngest complete:\n  Processed: %d\n  Failed: %d\n", processed, failed)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "NDJSON events file (default stdin)")
	ingestCmd.Flags().BoolVar(&replayFailed, "replay-failed", false, "Replay dead-lettered deliveries instead of reading new events")
	ingestCmd.Flags().StringVarP(&ingestWS, "workspace", "w", "", "Workspace ID for --replay-failed")
}

// --- search command ---

var (
	searchWS    string
	searchMode  string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search observations in a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchWS == "" {
			return fmt.Errorf("--workspace is required")
		}

		db, idx, err := openStores()
		if err != nil {
			return err
		}
		defer db.Close()
		defer idx.Close()

		_, e, _ := buildEngine(db, idx)

		resp, err := e.Search(context.Background(), model.SearchRequest{
			WorkspaceID: searchWS,
			Query:       args[0],
			Mode:        searchMode,
			Limit:       searchLimit,
		})
		if err != nil {
			return err
		}

		if len(resp.Results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, r := range resp.Results {
			fmt.Printf("%2d. [%.2f] %s (%s/%s)\n", i+1, r.Score, r.Title, r.Source, r.Type)
			if r.URL != "" {
				fmt.Printf("      %s\n", r.URL)
			}
		}
		if resp.Context != nil {
			for _, c := range resp.Context.Clusters {
				fmt.Printf("\nRelated topic: %s (%d observations)\n", c.TopicLabel, c.MemberCount)
			}
			for _, a := range resp.Context.RelevantActors {
				fmt.Printf("Relevant actor: %s (%d observations)\n", a.DisplayName, a.ObservationCount)
			}
		}
		fmt.Printf("\n%d result(s) in %dms (%s mode)\n", resp.Meta.Total, resp.Meta.TookMS, resp.Meta.Mode)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchWS, "workspace", "w", "", "Workspace ID")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "balanced", "Search mode: fast, balanced, thorough")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum results")
}

// --- workspace command ---

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
}

var workspaceAddCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "Register a workspace with default index settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStores()
		if err != nil {
			return err
		}
		defer db.Close()

		id := args[0]
		if err := db.UpsertWorkspaceConfig(model.WorkspaceConfig{
			WorkspaceID:    id,
			IndexName:      "observations",
			NamespaceName:  id,
			EmbeddingModel: cfg.Embedding.Model,
		}); err != nil {
			return err
		}
		fmt.Printf("Workspace %s configured.\n", id)
		return nil
	},
}

var workspaceRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Delete a workspace and all of its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, idx, err := openStores()
		if err != nil {
			return err
		}
		defer db.Close()
		defer idx.Close()

		id := args[0]
		wcfg, err := db.GetWorkspaceConfig(id)
		if err != nil {
			return err
		}
		if wcfg == nil {
			return fmt.Errorf("workspace %s not found", id)
		}

		if err := idx.DeleteNamespace(context.Background(), wcfg.NamespaceName); err != nil {
			return fmt.Errorf("purging vectors: %w", err)
		}
		if err := db.DeleteWorkspace(id); err != nil {
			return err
		}
		fmt.Printf("Workspace %s removed.\n", id)
		return nil
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceAddCmd)
	workspaceCmd.AddCommand(workspaceRemoveCmd)
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStores()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Data directory: %s\n\n", cfg.GetDataDir())
		fmt.Println("Observations:")
		fmt.Printf("  Total: %d\n", stats.Observations)
		fmt.Printf("  Entities: %d\n", stats.Entities)
		fmt.Printf("  Clusters: %d\n", stats.Clusters)
		fmt.Println("\nActors and state:")
		fmt.Printf("  Actor profiles: %d\n", stats.Actors)
		fmt.Printf("  Temporal states: %d\n", stats.TemporalStates)
		fmt.Println("\nDeliveries:")
		fmt.Printf("  Audited payloads: %d\n", stats.WebhookPayloads)
		fmt.Printf("  Dead-lettered: %d\n", stats.FailedWebhooks)
		fmt.Printf("\nWorkspaces: %d\n", stats.Workspaces)
		return nil
	},
}

// --- wiring helpers ---

func openStores() (*database.DB, *vecindex.BadgerIndex, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := database.Open(filepath.Join(dataDir, "hindsight.db"))
	if err != nil {
		return nil, nil, err
	}
	idx, err := vecindex.OpenBadger(filepath.Join(dataDir, "vectors"))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, idx, nil
}

func buildEngine(db *database.DB, idx *vecindex.BadgerIndex) (*pipeline.Pipeline, *search.Engine, *wscache.Cache) {
	embedder := llm.CreateEmbedder(cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.OllamaURL, cfg.Embedding.APIKeyEnv)
	provider := llm.CreateProvider(cfg.Rerank.Provider, cfg.Rerank.Model, cfg.Rerank.OllamaURL, cfg.Rerank.OpenAIModel, cfg.Rerank.APIKeyEnv)

	cache := wscache.New(db, time.Duration(cfg.Cache.WorkspaceTTLSeconds)*time.Second)
	p := pipeline.New(db, cache, embedder, idx, cfg.Cluster.SimilarityThreshold)
	e := search.New(db, cache, embedder, idx, provider)
	return p, e, cache
}
