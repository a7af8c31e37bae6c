// Command loom is the interactive CLI surface (§6): an offline chat
// REPL over a local causal LM, with retrieval-augmented context backed
// by a local embedder and optional reranker, fed by whatever documents
// have been ingested into the configured vector store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tensorloom/loom/internal/agent"
	"github.com/tensorloom/loom/internal/chatfmt"
	"github.com/tensorloom/loom/internal/config"
	"github.com/tensorloom/loom/internal/convo"
	"github.com/tensorloom/loom/internal/kv"
	"github.com/tensorloom/loom/internal/lm"
	"github.com/tensorloom/loom/internal/modelhost"
	"github.com/tensorloom/loom/internal/obslog"
	"github.com/tensorloom/loom/internal/retrieval"
	"github.com/tensorloom/loom/internal/sampling"
	"github.com/tensorloom/loom/internal/tensorrt"
	"github.com/tensorloom/loom/internal/tokenizer"
)

const defaultSystemInstruction = "You are a helpful assistant. Answer using the provided context when it is relevant."

// defaultRerankThreshold is the minimum cosine similarity the persistent
// retrieval store's TopK query keeps before reranking narrows further.
const defaultRerankThreshold = 0.0

func main() {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:   "loom <llm-model-file> <llm-tokenizer-file> <embedding-model-file> <embedding-tokenizer-file> [reranker-model-file] [reranker-tokenizer-file]",
		Short: "Offline retrieval-augmented chat over a local causal LM",
		Args:  cobra.RangeArgs(4, 6),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			obslog.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, args)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "optional TOML config file (runtime providers, threads, postgres dsn, sampling defaults)")
	root.Flags().StringVar(&logLevel, "log-level", "", "zerolog level (debug, info, warn, error); overrides the config file")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("loom exited with an error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string) error {
	logger := obslog.Component("main")

	if _, err := tensorrt.EnsureSharedLibrary(); err != nil {
		return err
	}
	if err := tensorrt.InitEnvironment(); err != nil {
		return err
	}
	defer tensorrt.ShutdownEnvironment()

	providers := resolveProviders(cfg.Providers)
	runtime := tensorrt.NewRuntime()

	llmModelPath, llmTokPath := args[0], args[1]
	embedModelPath, embedTokPath := args[2], args[3]

	llmSession, err := runtime.Open(llmModelPath, providers)
	if err != nil {
		return err
	}
	defer llmSession.Close()

	mapping, err := kv.Discover(llmSession.InputInfo(), llmSession.OutputInfo())
	if err != nil {
		return err
	}
	driver := lm.NewDriver(llmSession, mapping)

	family := lm.DetectFamily(llmModelPath)
	logger.Info().Str("family", family.String()).Msg("detected model family")
	cfg.Sampling = cfg.Sampling.WithOverlay(sampling.Overlay(lm.OverlayFor(family)))

	llmTok, err := tokenizer.FromFile(llmTokPath)
	if err != nil {
		return err
	}

	embedSession, err := runtime.Open(embedModelPath, providers)
	if err != nil {
		return err
	}
	defer embedSession.Close()

	embedTok, err := modelhost.LoadTokenizer(embedTokPath)
	if err != nil {
		return err
	}
	defer embedTok.Close()

	embedder := modelhost.NewEmbedder(embedSession, embedTok, modelhost.EmbeddingOutputName, modelhost.DefaultMaxTokens)

	var reranker *modelhost.Reranker
	if len(args) >= 6 {
		rerankModelPath, rerankTokPath := args[4], args[5]

		rerankSession, err := runtime.Open(rerankModelPath, providers)
		if err != nil {
			return err
		}
		defer rerankSession.Close()

		rerankTok, err := modelhost.LoadTokenizer(rerankTokPath)
		if err != nil {
			return err
		}
		defer rerankTok.Close()

		reranker = modelhost.NewReranker(rerankSession, rerankTok, modelhost.DefaultMaxTokens)
	}

	opts := []agent.Option{agent.WithSamplingConfig(cfg.Sampling)}

	if cfg.PostgresDSN != "" {
		store, err := retrieval.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, agent.WithRetrieval(embedder, agent.FromPostgres(store, defaultRerankThreshold)))
		logger.Info().Msg("using persistent retrieval store")
	} else {
		store := retrieval.NewMemory()
		opts = append(opts, agent.WithRetrieval(embedder, agent.FromMemory(store)))
		logger.Info().Msg("using in-memory retrieval store")
	}

	if reranker != nil {
		opts = append(opts, agent.WithReranker(reranker))
	}

	template, err := loadTemplate()
	if err != nil {
		return err
	}

	orchestrator := agent.New(template, defaultSystemInstruction, opts...)
	session := convo.New(driver, llmTok, cfg.Sampling.Seed)
	defer session.Close()

	return repl(ctx, orchestrator, session)
}

// loadTemplate uses a repo-local chat_template.jinja override if
// present, otherwise the built-in §6 default.
func loadTemplate() (*chatfmt.Template, error) {
	if _, err := os.Stat("chat_template.jinja"); err == nil {
		return chatfmt.FromFile("chat_template.jinja")
	}
	return chatfmt.Default()
}

// repl reads one line at a time from stdin, runs it as a chat turn, and
// streams the response to stdout. An empty line ends the session
// cleanly.
func repl(ctx context.Context, orchestrator *agent.Orchestrator, session *convo.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}

		fragments, err := orchestrator.ChatTurn(ctx, session, line)
		if err != nil {
			return err
		}
		for frag := range fragments {
			fmt.Print(frag.Text)
		}
		fmt.Println()

		if err := session.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// resolveProviders maps the configured provider names to tensorrt.Provider
// values, in order, dropping names it doesn't recognize rather than
// failing the whole list (an unresolved preference is no worse than one
// the runtime itself can't construct, which sessionOptionsFor already
// falls through past).
func resolveProviders(names []string) []tensorrt.Provider {
	providers := make([]tensorrt.Provider, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "cpu":
			providers = append(providers, tensorrt.CPU)
		case "cuda":
			providers = append(providers, tensorrt.CUDA)
		case "rocm":
			providers = append(providers, tensorrt.ROCm)
		case "directml":
			providers = append(providers, tensorrt.DirectML)
		case "openvino":
			providers = append(providers, tensorrt.OpenVINO)
		case "coreml":
			providers = append(providers, tensorrt.CoreML)
		case "migraphx":
			providers = append(providers, tensorrt.MIGraphX)
		case "tensorrt":
			providers = append(providers, tensorrt.TensorRT)
		case "nnapi":
			providers = append(providers, tensorrt.NNAPI)
		case "onednn":
			providers = append(providers, tensorrt.OneDNN)
		}
	}
	return providers
}
