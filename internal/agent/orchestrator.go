// Package agent implements the per-turn orchestrator (§4.8): retrieval
// against a configured vector store, chat-template prompt construction,
// delegation to a conversation session's generation loop, and an
// optional tool-call injection loop that feeds executed tool results
// back into the same session.
package agent

import (
	"context"
	"sort"

	"github.com/tensorloom/loom/internal/chatfmt"
	"github.com/tensorloom/loom/internal/convo"
	"github.com/tensorloom/loom/internal/retrieval"
	"github.com/tensorloom/loom/internal/sampling"
	"github.com/tensorloom/loom/internal/toolcall"
)

const (
	defaultTopK    = 10
	defaultKeepTop = 5
)

// Embedder turns text into a query vector. Satisfied by
// *modelhost.Embedder; declared locally so tests can substitute a fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker scores a (query, document) pair. Satisfied by
// *modelhost.Reranker.
type Reranker interface {
	Score(ctx context.Context, query, document string) (float64, error)
}

// Retriever returns the k closest items to query. internal/retrieval's
// two stores have deliberately different TopK signatures (the
// persistent store also takes a similarity threshold), so this package
// depends on this one adapter seam instead of either store directly;
// see FromMemory and FromPostgres.
type Retriever func(ctx context.Context, query []float32, k int) ([]retrieval.Result, error)

// FromMemory adapts a MemoryStore to Retriever.
func FromMemory(store *retrieval.MemoryStore) Retriever {
	return func(_ context.Context, query []float32, k int) ([]retrieval.Result, error) {
		return store.TopK(query, k), nil
	}
}

// FromPostgres adapts a PostgresStore to Retriever, converting each
// matching Document into a Result whose ID is the file path and whose
// Text is the content. Score is left at zero: the bit-exact §6 query
// returns no score column and no score is recomputed here.
func FromPostgres(store *retrieval.PostgresStore, threshold float64) Retriever {
	return func(ctx context.Context, query []float32, k int) ([]retrieval.Result, error) {
		docs, err := store.TopK(ctx, query, k, threshold)
		if err != nil {
			return nil, err
		}
		out := make([]retrieval.Result, len(docs))
		for i, d := range docs {
			out[i] = retrieval.Result{
				ID:   d.FilePath,
				Text: d.Content,
			}
		}
		return out, nil
	}
}

// ToolExecutor runs one parsed tool call's args string, returning its
// result text or an error.
type ToolExecutor interface {
	Execute(ctx context.Context, args string) (string, error)
}

// Orchestrator binds the retrieval, chat-template, and tool-injection
// concerns around one or more convo.Session turns.
type Orchestrator struct {
	embedder          Embedder
	reranker          Reranker
	retriever         Retriever
	template          *chatfmt.Template
	systemInstruction string
	tool              ToolExecutor
	toolName          string
	cfg               sampling.Config
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithRetrieval configures the embedder and vector store used to build
// retrieved context. Without this option every turn has empty context.
func WithRetrieval(embedder Embedder, retriever Retriever) Option {
	return func(o *Orchestrator) {
		o.embedder = embedder
		o.retriever = retriever
	}
}

// WithReranker configures a reranker to reorder retrieved context by
// relevance before truncating to the top 5.
func WithReranker(reranker Reranker) Option {
	return func(o *Orchestrator) { o.reranker = reranker }
}

// WithTool configures a tool executor and the tool name advertised in
// the system prompt's tool-use block.
func WithTool(name string, executor ToolExecutor) Option {
	return func(o *Orchestrator) {
		o.toolName = name
		o.tool = executor
	}
}

// WithSamplingConfig overrides the sampling configuration used for
// every Generate call this orchestrator issues. Defaults to
// sampling.Default().
func WithSamplingConfig(cfg sampling.Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// New constructs an Orchestrator. template renders chat turns (see
// chatfmt.Default); systemInstruction is the short instruction line
// placed in the first turn's system message.
func New(template *chatfmt.Template, systemInstruction string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		template:          template,
		systemInstruction: systemInstruction,
		cfg:               sampling.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ChatTurn builds the prompt for one user turn (including retrieved
// context and, on the session's first turn, the system instruction and
// tool-use block), delegates to session.Generate, and forwards every
// fragment. If a tool executor is configured, completed tool calls
// parsed out of the generated text are executed and their results fed
// back into the same session as a further generation step, so the
// returned channel may span more than one underlying Generate call.
func (o *Orchestrator) ChatTurn(ctx context.Context, session *convo.Session, userText string) (<-chan convo.Fragment, error) {
	sources, err := o.retrieveSources(ctx, userText)
	if err != nil {
		return nil, err
	}

	var toolUse *chatfmt.ToolUse
	if o.tool != nil {
		toolUse = &chatfmt.ToolUse{Name: o.toolName, Args: "<tool arguments>"}
	}

	var prompt string
	if session.Transcript() == "" {
		prompt, err = o.template.SystemPrompt(o.systemInstruction, sources, toolUse, userText)
	} else {
		prompt, err = o.template.Turn(sources, userText)
	}
	if err != nil {
		return nil, err
	}

	out := make(chan convo.Fragment)
	go o.run(ctx, session, prompt, out)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, session *convo.Session, prompt string, out chan<- convo.Fragment) {
	defer close(out)

	nextPrompt := prompt
	for {
		ch, err := session.Generate(ctx, nextPrompt, o.cfg)
		if err != nil {
			return
		}

		parser := toolcall.Default()
		var pending *toolcall.Call
		for frag := range ch {
			select {
			case out <- frag:
			case <-ctx.Done():
				return
			}
			if o.tool == nil {
				continue
			}
			if call, ok := parser.Feed(frag.Text); ok {
				c := call
				pending = &c
			}
		}

		if pending == nil || o.tool == nil {
			return
		}

		pending.Status = toolcall.Executing
		resultText, execErr := o.tool.Execute(ctx, pending.Args)
		if execErr != nil {
			pending.Status = toolcall.Failed
			resultText = "Error: " + execErr.Error()
		} else {
			pending.Status = toolcall.Completed
			pending.Result = resultText
		}

		block, err := o.template.ToolResultBlock(chatfmt.ToolResult{Content: resultText})
		if err != nil {
			return
		}
		nextPrompt = block
	}
}

func (o *Orchestrator) retrieveSources(ctx context.Context, userText string) ([]chatfmt.Source, error) {
	if o.embedder == nil || o.retriever == nil {
		return nil, nil
	}

	query, err := o.embedder.Embed(ctx, userText)
	if err != nil {
		return nil, err
	}

	results, err := o.retriever(ctx, query, defaultTopK)
	if err != nil {
		return nil, err
	}

	if o.reranker != nil {
		results, err = o.rerank(ctx, userText, results)
		if err != nil {
			return nil, err
		}
	}

	keep := defaultKeepTop
	if keep > len(results) {
		keep = len(results)
	}
	sources := make([]chatfmt.Source, keep)
	for i := 0; i < keep; i++ {
		sources[i] = chatfmt.Source{Text: results[i].Text}
	}
	return sources, nil
}

type scoredResult struct {
	result retrieval.Result
	score  float64
}

func (o *Orchestrator) rerank(ctx context.Context, query string, results []retrieval.Result) ([]retrieval.Result, error) {
	scored := make([]scoredResult, len(results))
	for i, r := range results {
		score, err := o.reranker.Score(ctx, query, r.Text)
		if err != nil {
			return nil, err
		}
		scored[i] = scoredResult{result: r, score: score}
	}

	sort.SliceStable(scored, func(a, b int) bool { return scored[a].score > scored[b].score })

	ranked := make([]retrieval.Result, len(scored))
	for i, s := range scored {
		ranked[i] = s.result
	}
	return ranked, nil
}
