// Package agent drives a chat model through the retrieval tools to answer
// questions about indexed code.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/indiseek/indiseek/application/retrieval"
	"github.com/indiseek/indiseek/domain/query"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/infrastructure/provider"
)

const systemInstruction = `You are a code research assistant answering questions about one repository.
You see the repository only through your tools; never guess at code you have not read.

Tool choice:
- "where is / what does X do" -> resolve_symbol(definition), then read_file around it
- "who uses / what breaks if" -> resolve_symbol(references or callers)
- "how does <feature> work" -> search_code(hybrid), then read_file the best hits
- "what is in <area>" -> read_map scoped to that path
- exact identifiers or error strings -> search_code(lexical)

Cite files as path:line. When the evidence is thin, say so instead of filling gaps.

Repository map:
%s`

const critiquePrompt = `Before continuing: list the claims your answer will make, ` +
	`and verify any you have not yet confirmed with targeted tool calls.`

const synthesisPrompt = `Synthesis pass: stop researching. Consolidate what you have ` +
	`found into the final answer, citing files and lines.`

const finalAnswerPrompt = `Answer now with the information you have gathered.`

// evidenceSummaryMaxLen bounds the per-step evidence summary.
const evidenceSummaryMaxLen = 120

// Result is the outcome of one agent run. Err is set on model failure;
// the other fields still carry whatever was gathered before it.
type Result struct {
	Answer   string
	Evidence []query.EvidenceStep
	Usage    query.UsageStats
	Err      string
}

// Runner executes agent runs.
type Runner struct {
	retrieval *retrieval.Service
	newChat   func() (provider.ChatClient, error)
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(retrievalSvc *retrieval.Service, newChat func() (provider.ChatClient, error), logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{retrieval: retrievalSvc, newChat: newChat, logger: logger}
}

// Run drives the loop: each turn the model either calls tools, whose
// results come back as tool messages, or answers. The final turn always
// runs without tools so a bounded run ends with an answer.
func (r *Runner) Run(ctx context.Context, repoID int64, prompt string, strategy Strategy, progress func(task.ProgressEvent)) Result {
	if progress == nil {
		progress = func(task.ProgressEvent) {}
	}

	chat, err := r.newChat()
	if err != nil {
		return Result{Err: err.Error()}
	}

	repoMap, err := r.retrieval.ReadMap(ctx, repoID, "")
	if err != nil {
		r.logger.Warn("repo map unavailable for agent run", "repo_id", repoID, "error", err)
		repoMap = "(map unavailable)"
	}

	tools := newToolset(r.retrieval, repoID, r.logger)
	messages := []provider.Message{
		provider.SystemMessage(fmt.Sprintf(systemInstruction, repoMap)),
		provider.UserMessage(prompt),
	}

	var result Result
	toolCalls := 0
	critiqued := false
	synthesized := !strategy.TwoPass

	for turn := 0; turn < strategy.MaxIterations; turn++ {
		lastTurn := turn == strategy.MaxIterations-1

		switch {
		case lastTurn:
			messages = append(messages, provider.UserMessage(finalAnswerPrompt))
		case !synthesized && turn >= strategy.MaxIterations/2:
			messages = append(messages, provider.UserMessage(synthesisPrompt))
			synthesized = true
		case strategy.CritiqueAfterToolCalls > 0 && !critiqued && toolCalls >= strategy.CritiqueAfterToolCalls:
			messages = append(messages, provider.UserMessage(critiquePrompt))
			critiqued = true
		}

		req := provider.ChatRequest{Messages: messages}
		if !lastTurn {
			req.Tools = toolSchemas()
		}

		progress(task.Progress("agent", turn+1, strategy.MaxIterations, "thinking"))
		resp, err := chat.Chat(ctx, req)
		if err != nil {
			r.logger.Error("agent model turn failed", "repo_id", repoID, "turn", turn, "error", err)
			result.Err = err.Error()
			return result
		}
		result.Usage.Add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.ThinkingTokens)
		result.Usage.EstimatedCost += provider.EstimateCost(chat.Model(), resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.Answer = resp.Text
			return result
		}

		messages = append(messages, provider.AssistantMessage(resp.Text, resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			progress(task.Progress("agent", turn+1, strategy.MaxIterations, call.Name))
			toolCalls++

			output, err := tools.dispatch(ctx, call.Name, call.Args)
			if err != nil {
				result.Err = err.Error()
				return result
			}
			result.Evidence = append(result.Evidence, query.EvidenceStep{
				ToolName: call.Name,
				Args:     call.Args,
				Summary:  summarizeToolResult(output),
			})
			messages = append(messages, provider.ToolResultMessage(call.ID, output))
		}
	}

	// Exhausting the budget without an answer means the final no-tools
	// turn still produced tool calls; report what was gathered.
	result.Err = "iteration budget exhausted without a final answer"
	return result
}

// summarizeToolResult derives a one-line evidence summary from tool
// output.
func summarizeToolResult(output string) string {
	line := output
	if i := strings.IndexByte(output, '\n'); i >= 0 {
		lines := strings.Count(output, "\n") + 1
		line = fmt.Sprintf("%s (+%d more lines)", output[:i], lines-1)
	}
	if len(line) > evidenceSummaryMaxLen {
		line = line[:evidenceSummaryMaxLen] + "…"
	}
	return line
}
