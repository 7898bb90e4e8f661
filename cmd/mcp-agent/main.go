// mcp-agent runs one task through the tool-use loop: it connects the
// configured MCP servers, optionally seeds the conversation with retrieved
// knowledge, and prints the model's final answer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	agent "github.com/openrag/mcp-agent"
	"github.com/openrag/mcp-agent/internal/config"
	"github.com/openrag/mcp-agent/internal/logging"
	"github.com/openrag/mcp-agent/pkg/chat"
	"github.com/openrag/mcp-agent/pkg/mcp"
	"github.com/openrag/mcp-agent/pkg/memory"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "mcp-agent",
	Short: "mcp-agent — an LLM agent with MCP tool servers",
}

var (
	flagTask      string
	flagServers   []string
	flagKnowledge string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one task to completion and print the answer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	runCmd.Flags().StringVar(&flagTask, "task", "", "task to run (required)")
	runCmd.Flags().StringArrayVar(&flagServers, "server", nil,
		`MCP server to connect, "name:command [args...]" (repeatable)`)
	runCmd.Flags().StringVar(&flagKnowledge, "knowledge", "",
		"directory of .md/.txt documents to embed as retrieval context")
	_ = runCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	opener := chat.NewOpenAIOpener(openai.NewClientWithConfig(clientCfg))

	var contextText string
	if flagKnowledge != "" {
		fmt.Println(logging.Banner("Loading knowledge"))
		contextText, err = retrieveContext(ctx, cfg, logger, flagKnowledge, flagTask)
		if err != nil {
			return err
		}
	}

	clients := make([]agent.ToolClient, 0, len(flagServers))
	for _, spec := range flagServers {
		serverCfg, err := parseServerSpec(spec)
		if err != nil {
			return err
		}
		serverCfg.InitTimeout = cfg.ServerInitTimeout
		clients = append(clients, mcp.NewClient(serverCfg, logger))
	}

	a, err := agent.New(agent.Options{
		Model:       cfg.Model,
		Completions: opener,
		Clients:     clients,
		Context:     contextText,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	fmt.Println(logging.Banner("Connecting tool servers"))
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Close()

	fmt.Println(logging.Banner("Running task"))
	result, err := a.Invoke(ctx, flagTask)
	if err != nil {
		return err
	}

	fmt.Println(logging.Banner("Result"))
	fmt.Println(result)
	return nil
}

// parseServerSpec splits "name:command [args...]" into a server config.
func parseServerSpec(spec string) (mcp.ServerConfig, error) {
	name, command, ok := strings.Cut(spec, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return mcp.ServerConfig{}, fmt.Errorf("invalid --server %q, want \"name:command [args...]\"", spec)
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return mcp.ServerConfig{}, fmt.Errorf("invalid --server %q, command is empty", spec)
	}
	return mcp.ServerConfig{
		Name:    strings.TrimSpace(name),
		Command: fields[0],
		Args:    fields[1:],
	}, nil
}

// retrieveContext embeds every document under dir and returns the chunks
// closest to the task, ready to seed the conversation. With POSTGRES_URL set
// the documents land in pgvector instead of the in-memory store.
func retrieveContext(ctx context.Context, cfg *config.Config, logger zerolog.Logger, dir, task string) (string, error) {
	embedder := memory.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingKey, cfg.EmbeddingModel)

	var store memory.VectorStore = memory.NewInMemoryStore()
	if cfg.PostgresURL != "" {
		pg, err := memory.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return "", err
		}
		defer pg.Close()
		// The table dimension has to match the embedding model; probe once.
		probe, err := embedder.Embed(ctx, "dimension probe")
		if err != nil {
			return "", err
		}
		if err := pg.CreateSchema(ctx, len(probe)); err != nil {
			return "", err
		}
		store = pg
	}

	retriever := memory.NewRetriever(embedder, store, cfg.RetrieveTopK)

	documents, err := loadDocuments(dir)
	if err != nil {
		return "", err
	}
	if len(documents) == 0 {
		return "", fmt.Errorf("no .md or .txt documents under %s", dir)
	}
	for name, content := range documents {
		if err := retriever.EmbedDocument(ctx, content); err != nil {
			return "", fmt.Errorf("embed %s: %w", name, err)
		}
		logger.Debug().Str("document", name).Msg("embedded knowledge document")
	}
	logger.Info().Int("documents", len(documents)).Msg("knowledge base loaded")

	return retriever.Retrieve(ctx, task)
}

// loadDocuments reads every markdown and plain-text file directly under dir.
func loadDocuments(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	documents := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			documents[entry.Name()] = text
		}
	}
	return documents, nil
}
