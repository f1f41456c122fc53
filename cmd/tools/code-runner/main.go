// Command code-runner exposes the labrunner pipeline as an MCP stdio server,
// so assistants can run snippets and grade solutions the way learners do.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/labrunner/internal/config"
	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/executor"
	"github.com/michaelbrown/labrunner/internal/exercise"
	"github.com/michaelbrown/labrunner/internal/logging"
	"github.com/michaelbrown/labrunner/internal/pipeline"
)

const maxResultChars = 4000

type tools struct {
	pipeline *pipeline.Pipeline
	catalog  *exercise.Catalog
}

func main() {
	cfg, err := config.Load(os.Getenv("LABRUNNER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol.
	log := logging.New(cfg.Log, os.Stderr)

	p, err := pipeline.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("building pipeline")
	}
	defer p.Close()

	catalog, err := exercise.LoadDir(cfg.Exercises.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("loading exercises")
	}

	t := &tools{pipeline: p, catalog: catalog}
	s := server.NewMCPServer("labrunner-code-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "run_code",
		Description: "Run a Python snippet in the labrunner sandbox. Forbidden imports are rejected before anything runs.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code to execute",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Standard input to provide to the program (optional)",
				},
			},
			Required: []string{"code"},
		},
	}, t.handleRunCode)

	s.AddTool(mcp.Tool{
		Name:        "grade_solution",
		Description: "Grade a Python solution against an exercise's test cases. Nothing is recorded.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"exercise_id": map[string]any{
					"type":        "string",
					"description": "Exercise id from list_exercises",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code of the solution",
				},
			},
			Required: []string{"exercise_id", "code"},
		},
	}, t.handleGradeSolution)

	s.AddTool(mcp.Tool{
		Name:        "list_exercises",
		Description: "List the exercises available for grading.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, t.handleListExercises)

	if err := server.ServeStdio(s); err != nil {
		log.Error().Err(err).Msg("server error")
	}
}

func (t *tools) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return errResult("error: 'code' is required"), nil
	}

	var opts executor.RunOptions
	if stdin, ok := args["stdin"].(string); ok {
		opts.Stdin = &stdin
	}
	out := t.pipeline.Executor.Run(ctx, execution.SubmittedCode{Source: code, Language: execution.LanguagePython}, opts)

	text := out.Output()
	if out.ExitCode != 0 && out.Status() == execution.StatusCompleted {
		text += fmt.Sprintf("\nexit code: %d", out.ExitCode)
	}
	return textResult(text, out.Failed() || out.ExitCode != 0), nil
}

func (t *tools) handleGradeSolution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	id, _ := args["exercise_id"].(string)
	code, _ := args["code"].(string)

	ex, err := t.catalog.Get(id)
	if err != nil {
		return errResult(fmt.Sprintf("error: unknown exercise %q", id)), nil
	}
	res, err := t.pipeline.Coordinator.Submit(ctx, ex, code)
	if err != nil {
		return errResult("error: " + err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d passed\n", ex.Title, res.PassedCount, res.TotalCount)
	for _, r := range res.Results {
		if r.Passed {
			fmt.Fprintf(&b, "case %d: passed\n", r.Index)
			continue
		}
		fmt.Fprintf(&b, "case %d: failed (input %q, expected %q", r.Index, r.Input, r.ExpectedOutput)
		if r.ActualOutput != nil {
			fmt.Fprintf(&b, ", got %q", *r.ActualOutput)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, ", error: %s", r.Error)
		}
		b.WriteString(")\n")
	}
	return textResult(b.String(), !res.AllPassed), nil
}

func (t *tools) handleListExercises(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type summary struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		Cases       int    `json:"cases"`
	}
	var list []summary
	for _, ex := range t.catalog.List() {
		list = append(list, summary{ID: ex.ID, Title: ex.Title, Description: ex.Description, Cases: len(ex.TestCases)})
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errResult("error: " + err.Error()), nil
	}
	return textResult(string(data), false), nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	if len(text) > maxResultChars {
		text = text[:maxResultChars] + "\n... (output truncated)"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: isError,
	}
}

func errResult(text string) *mcp.CallToolResult {
	return textResult(text, true)
}
