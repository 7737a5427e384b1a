package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
	"github.com/harun/mcpagent/pkg/mcp"
	"github.com/harun/mcpagent/pkg/toolexecutor"
)

const (
	defaultRetryBaseDelay = time.Second
	tracerName            = "mcpagent.agent"
)

// Runner orchestrates agent execution: it connects the run's MCP servers,
// drives the model/tool loop and fails over between credentials.
type Runner struct {
	logger          zerolog.Logger
	providerFactory ProviderCreator
	mcpOptions      []mcp.ProviderOption
	localTools      []toolexecutor.ToolDefinition
	retryBaseDelay  time.Duration

	// Per-profile failure state, kept across runs.
	authMu   sync.Mutex
	cooldown map[string]profileState

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

type profileState struct {
	failures int
	until    time.Time
}

// Config holds runner configuration
type Config struct {
	// Logger defaults to the global zerolog logger.
	Logger          *zerolog.Logger
	ProviderFactory ProviderCreator
	// MCPOptions are applied to the tool provider of every run.
	MCPOptions []mcp.ProviderOption
	// LocalTools are registered next to the MCP tools of every run.
	LocalTools []toolexecutor.ToolDefinition
	// RetryBaseDelay is the first backoff step between model retries.
	RetryBaseDelay time.Duration
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}

	retryBaseDelay := cfg.RetryBaseDelay
	if retryBaseDelay <= 0 {
		retryBaseDelay = defaultRetryBaseDelay
	}

	for _, def := range cfg.LocalTools {
		if def.Name == "" || def.Handler == nil {
			return nil, fmt.Errorf("local tool %q needs a name and a handler", def.Name)
		}
	}

	return &Runner{
		logger:          logger,
		providerFactory: providerFactory,
		mcpOptions:      cfg.MCPOptions,
		localTools:      cfg.LocalTools,
		retryBaseDelay:  retryBaseDelay,
		cooldown:        make(map[string]profileState),
		activeRuns:      make(map[string]context.CancelFunc),
	}, nil
}

var defaultRunner = sync.OnceValue(func() *Runner {
	r, _ := NewRunner(Config{})
	return r
})

// Run executes agent with a shared default Runner.
func Run(ctx context.Context, agent *Agent, input string, cfg RunConfig) (*RunResult, error) {
	return defaultRunner().Run(ctx, agent, input, cfg)
}

// Run sends input to agent and returns the model's final answer after any
// tool calls. Cancelling ctx aborts the run and yields a result with
// Aborted set.
func (r *Runner) Run(ctx context.Context, agent *Agent, input string, cfg RunConfig) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	if err := agent.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("input cannot be empty")
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	model := cfg.Model
	if agent.Model != "" {
		model = agent.Model
	}
	providerName, modelName, err := ProviderForModel(model)
	if err != nil {
		return nil, err
	}

	// Credentials are checked before any server process is spawned.
	profiles, err := r.profilesFor(providerName, cfg)
	if err != nil {
		return nil, err
	}

	ctx = tracing.NewAgentRunContext(ctx, agent.Name)
	runID := tracing.GetRunID(ctx)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run",
		attribute.String("agent", agent.Name),
		attribute.String("model", modelName),
		attribute.String("provider", providerName),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.registerRun(runID, cancel)
	defer r.unregisterRun(runID)

	executor, closeTools, err := r.buildExecutor(runCtx, cfg, logger)
	if err != nil {
		tracing.EndSpan(span, err)
		if runCtx.Err() != nil {
			return r.abortedResult(runID, agent, providerName, modelName, start), nil
		}
		return nil, err
	}
	defer closeTools()

	policy := toolexecutor.MergePolicies(agent.ToolPolicy, cfg.ToolPolicy)
	run := &runState{
		agent:    agent,
		cfg:      cfg,
		model:    modelName,
		executor: executor,
		policy:   policy,
		tools:    executor.Specs(agent.Tools, policy),
		runID:    runID,
		logger:   logger,
	}

	logger.Info().
		Str("model", modelName).
		Str("provider", providerName).
		Int("tools", len(run.tools)).
		Msg("Agent run started")

	result, err := r.executeWithFailover(runCtx, profiles, run, input)
	tracing.EndSpan(span, err)
	if err != nil {
		logger.Error().Err(err).Msg("Agent run failed")
		return nil, err
	}

	result.RunID = runID
	result.Agent = agent.Name
	result.Model = modelName
	result.Provider = providerName
	result.Duration = time.Since(start)

	logger.Info().
		Int("turns", result.Turns).
		Int("tool_calls", len(result.ToolCalls)).
		Bool("aborted", result.Aborted).
		Dur("duration", result.Duration).
		Msg("Agent run finished")

	return result, nil
}

func (r *Runner) abortedResult(runID string, agent *Agent, provider, model string, start time.Time) *RunResult {
	return &RunResult{
		RunID:    runID,
		Agent:    agent.Name,
		Model:    model,
		Provider: provider,
		Aborted:  true,
		Duration: time.Since(start),
	}
}

// Abort cancels a running agent execution. It reports whether the run was found.
func (r *Runner) Abort(runID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[runID]
	if !exists {
		r.logger.Debug().Str("run_id", runID).Msg("No active run to abort")
		return false
	}

	r.logger.Info().Str("run_id", runID).Msg("Aborting agent execution")
	cancel()
	delete(r.activeRuns, runID)
	return true
}

// IsRunning checks if a run is in progress
func (r *Runner) IsRunning(runID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[runID]
	return exists
}

// ActiveRuns returns the IDs of runs in progress.
func (r *Runner) ActiveRuns() []string {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	ids := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Runner) registerRun(runID string, cancel context.CancelFunc) {
	r.runsMu.Lock()
	r.activeRuns[runID] = cancel
	r.runsMu.Unlock()
}

func (r *Runner) unregisterRun(runID string) {
	r.runsMu.Lock()
	delete(r.activeRuns, runID)
	r.runsMu.Unlock()
}

// buildExecutor registers local tools and the tools of the selected MCP
// servers into a run-scoped executor. The returned func closes the servers.
func (r *Runner) buildExecutor(ctx context.Context, cfg RunConfig, logger zerolog.Logger) (*toolexecutor.ToolExecutor, func(), error) {
	executor := toolexecutor.New()
	for _, def := range r.localTools {
		if err := executor.RegisterTool(def); err != nil {
			return nil, nil, fmt.Errorf("register local tool: %w", err)
		}
	}

	servers := cfg.SelectedServers()
	if len(servers) == 0 {
		return executor, func() {}, nil
	}

	opts := append([]mcp.ProviderOption{mcp.WithProviderLogger(logger)}, r.mcpOptions...)
	provider, err := mcp.NewToolProvider(servers, opts...)
	if err != nil {
		return nil, nil, err
	}

	closeTools := func() {
		if err := provider.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close MCP servers")
		}
	}

	if _, err := provider.RegisterAll(ctx, executor); err != nil {
		closeTools()
		return nil, nil, fmt.Errorf("failed to load MCP tools: %w", err)
	}
	return executor, closeTools, nil
}

// profilesFor returns the credentials to try for provider, primary key first.
func (r *Runner) profilesFor(provider string, cfg RunConfig) ([]AuthProfile, error) {
	profiles := []AuthProfile{}
	if key := cfg.apiKey(provider); key != "" {
		profiles = append(profiles, AuthProfile{ID: provider + "-default", Provider: provider, APIKey: key})
	}

	extra := []AuthProfile{}
	for _, p := range cfg.AuthProfiles {
		if p.Provider == provider && p.APIKey != "" {
			extra = append(extra, p)
		}
	}
	sort.SliceStable(extra, func(i, j int) bool { return extra[i].Priority < extra[j].Priority })
	profiles = append(profiles, extra...)

	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: %s models require %s", ErrMissingCredential, provider, CredentialEnvVar(provider))
	}
	return profiles, nil
}

// runState carries what one run needs across failover attempts.
type runState struct {
	agent    *Agent
	cfg      RunConfig
	model    string
	executor *toolexecutor.ToolExecutor
	policy   *toolexecutor.ToolPolicy
	tools    []toolexecutor.ToolSpec
	runID    string
	logger   zerolog.Logger
}

// executeWithFailover executes with auth profile failover
func (r *Runner) executeWithFailover(ctx context.Context, profiles []AuthProfile, run *runState, input string) (*RunResult, error) {
	logger := run.logger
	var lastErr error
	// A lone profile is always tried; cooling it down would fail every run.
	failover := len(profiles) > 1

	for _, profile := range profiles {
		profileStart := time.Now()
		if failover && r.inCooldown(profile.ID) {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			lastErr = err
			logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			continue
		}

		messages := []AgentMessage{{Role: RoleUser, Content: input}}
		result, err := r.executeWithTools(ctx, provider, run, messages)
		if err == nil {
			r.updateProfileSuccess(profile)
			observability.RecordAgentRun(profile.Provider, time.Since(profileStart), result.Turns, true)
			return result, nil
		}

		lastErr = err
		observability.RecordAgentRun(profile.Provider, time.Since(profileStart), 0, false)
		logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Auth profile failed")

		// Don't fail over on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}
		if failover {
			r.updateProfileFailure(profile)
		}
	}

	if lastErr == nil {
		lastErr = errors.New("every profile is cooling down")
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// executeWithTools handles the tool execution loop
func (r *Runner) executeWithTools(ctx context.Context, provider LLMProvider, run *runState, messages []AgentMessage) (*RunResult, error) {
	result := &RunResult{}
	hooks := run.cfg.Hooks
	if hooks == nil {
		hooks = &RunHooks{}
	}

	for turn := 0; turn < run.cfg.MaxTurns; turn++ {
		if ctx.Err() != nil {
			result.Aborted = true
			return result, nil
		}

		done, err := r.executeTurn(ctx, provider, run, turn, hooks, &messages, result)
		if err != nil {
			if ctx.Err() != nil {
				result.Aborted = true
				return result, nil
			}
			return nil, err
		}
		if done {
			return result, nil
		}
	}

	return nil, fmt.Errorf("%w (%d)", ErrMaxTurnsExceeded, run.cfg.MaxTurns)
}

// executeTurn makes one model call and runs the tool calls it asks for.
// done reports that the model answered without calling tools.
func (r *Runner) executeTurn(ctx context.Context, provider LLMProvider, run *runState, turn int, hooks *RunHooks, messages *[]AgentMessage, result *RunResult) (done bool, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.turn",
		attribute.String("run_id", run.runID),
		attribute.Int("turn", turn),
	)
	defer func() { tracing.EndSpan(span, err) }()

	response, err := r.callLLMWithRetry(ctx, provider, run, *messages)
	if err != nil {
		return false, err
	}
	result.Turns++
	result.Usage.Add(response.Usage)
	span.SetAttributes(attribute.Int("tool_calls", len(response.ToolCalls)))
	if hooks.OnModelResponse != nil {
		hooks.OnModelResponse(turn, response)
	}

	if len(response.ToolCalls) == 0 {
		result.Output = response.Content
		return true, nil
	}

	*messages = append(*messages, AgentMessage{
		Role:      RoleAssistant,
		Content:   response.Content,
		ToolCalls: response.ToolCalls,
	})

	for _, call := range response.ToolCalls {
		if hooks.OnToolCall != nil {
			hooks.OnToolCall(call)
		}

		toolResult := r.executeTool(ctx, run, call)
		if hooks.OnToolResult != nil {
			hooks.OnToolResult(call, toolResult)
		}

		content := toolResult.Output
		if toolResult.Error != "" {
			content = "Error: " + toolResult.Error
		}
		*messages = append(*messages, AgentMessage{
			Role:       RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			IsError:    toolResult.Error != "",
		})
		result.ToolResults = append(result.ToolResults, toolResult)
	}
	result.ToolCalls = append(result.ToolCalls, response.ToolCalls...)
	return false, nil
}

func (r *Runner) executeTool(ctx context.Context, run *runState, call ToolCall) ToolResult {
	start := time.Now()
	res := run.executor.Execute(ctx, call.Name, call.Parameters, &toolexecutor.ExecutionContext{
		RunID:      run.runID,
		AgentID:    run.agent.Name,
		Timeout:    run.cfg.ToolTimeout,
		ToolPolicy: run.policy,
	})

	status := "ok"
	toolResult := ToolResult{ToolCallID: call.ID, Name: call.Name, Duration: time.Since(start)}
	if res.Success {
		toolResult.Output = res.String()
	} else {
		toolResult.Error = res.Error
		status = "error"
	}
	observability.RecordToolAudit(ctx, call.Name, run.agent.Name, status, map[string]interface{}{
		"run_id":      run.runID,
		"duration_ms": toolResult.Duration.Milliseconds(),
	})

	run.logger.Debug().
		Str("tool", call.Name).
		Bool("success", res.Success).
		Dur("duration", toolResult.Duration).
		Msg("Tool call finished")

	return toolResult
}

// callLLMWithRetry calls LLM with exponential backoff retry
func (r *Runner) callLLMWithRetry(ctx context.Context, provider LLMProvider, run *runState, messages []AgentMessage) (*LLMResponse, error) {
	maxRetries := run.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	request := LLMRequest{
		Model:        run.model,
		Messages:     messages,
		Tools:        run.tools,
		Temperature:  run.cfg.Temperature,
		MaxTokens:    run.cfg.MaxTokens,
		SystemPrompt: run.agent.Instructions,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == maxRetries-1 {
			break
		}

		// Exponential backoff: 1x, 2x, 4x the base delay
		delay := r.retryBaseDelay * time.Duration(1<<attempt)
		run.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

func (r *Runner) inCooldown(profileID string) bool {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	state, ok := r.cooldown[profileID]
	return ok && time.Now().Before(state.until)
}

// updateProfileSuccess resets failure count for a profile
func (r *Runner) updateProfileSuccess(profile AuthProfile) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	delete(r.cooldown, profile.ID)
	observability.SetProviderCooldown(profile.Provider, false)
}

// updateProfileFailure puts a profile in cooldown for a minute per failure
func (r *Runner) updateProfileFailure(profile AuthProfile) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	state := r.cooldown[profile.ID]
	state.failures++
	state.until = time.Now().Add(time.Duration(state.failures) * time.Minute)
	r.cooldown[profile.ID] = state
	observability.SetProviderCooldown(profile.Provider, true)
}
