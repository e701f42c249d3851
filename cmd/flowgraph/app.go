package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

type app struct {
	engine  *flowgraph.Engine
	events  *flowgraph.EventLog
	cfg     *Config
	printer *printer
	stdin   *bufio.Reader
}

func (a *app) run(ctx context.Context) error {
	if a.cfg.WorkflowFile == "" {
		return errors.New("-file is required")
	}
	wf, err := flowgraph.LoadFile(a.cfg.WorkflowFile)
	if err != nil {
		return err
	}
	id, err := a.engine.CreateExecution(ctx, wf.ID(), a.cfg.Inputs, flowgraph.CreateOptions{
		OwnerID:     a.cfg.Owner,
		Model:       a.cfg.Model,
		ExecutionID: a.cfg.ExecutionID,
	})
	if err != nil {
		return err
	}
	return a.follow(ctx, id)
}

func (a *app) resume(ctx context.Context) error {
	if a.cfg.ExecutionID == "" {
		return errors.New("-id is required")
	}
	state, err := a.engine.GetExecution(ctx, a.cfg.ExecutionID)
	if err != nil {
		return err
	}
	if state.Status != flowgraph.ExecutionStatusPaused || state.Pending == nil {
		return fmt.Errorf("execution %s is %s, not waiting for input", state.ID, state.Status)
	}
	if a.cfg.Response == "" {
		if a.cfg.NoInput {
			return errors.New("-response is required with -no-input")
		}
		if err := a.answer(ctx, state.ID, state.Pending); err != nil {
			return err
		}
		return a.follow(ctx, state.ID)
	}
	var response map[string]any
	if err := xjson.Unmarshal([]byte(a.cfg.Response), &response); err != nil {
		return fmt.Errorf("invalid -response: %w", err)
	}
	correlationID := a.cfg.CorrelationID
	if correlationID == "" {
		correlationID = state.Pending.CorrelationID
	}
	if err := a.engine.Respond(ctx, state.ID, correlationID, response); err != nil {
		return err
	}
	return a.follow(ctx, state.ID)
}

// follow prints the event stream of an execution, answers human checkpoints
// from stdin and prints the final state.
func (a *app) follow(ctx context.Context, id string) error {
	events, err := a.engine.StreamEvents(ctx, id)
	if err != nil {
		return err
	}
	for ev := range events {
		a.printer.event(ev)
		if ev.Type != flowgraph.EventPaused || ev.Pending == nil {
			continue
		}
		if a.cfg.NoInput {
			if !a.cfg.JSON {
				color.Yellow("Execution %s is waiting for input. Resume with:", id)
				fmt.Printf("  %s resume -id %s -correlation %s -response '{...}'\n", os.Args[0], id, ev.Pending.CorrelationID)
			}
			return nil
		}
		if _, err := a.engine.Wait(ctx, id); err != nil {
			break
		}
		if err := a.answer(ctx, id, ev.Pending); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		color.Yellow("Interrupted, cancelling execution %s", id)
		if err := a.engine.Cancel(context.WithoutCancel(ctx), id); err != nil {
			return err
		}
		return ctx.Err()
	}
	state, err := a.engine.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	a.printer.state(state)
	if state.Status == flowgraph.ExecutionStatusFailed {
		return errors.New("execution failed")
	}
	return nil
}

// answer prompts until the engine accepts a response.
func (a *app) answer(ctx context.Context, id string, pending *flowgraph.PendingInput) error {
	for {
		response, err := a.prompt(pending)
		if err != nil {
			return err
		}
		err = a.engine.Respond(ctx, id, pending.CorrelationID, response)
		if err == nil {
			return nil
		}
		if !flowgraph.HasCode(err, flowgraph.CodeValidation) {
			return err
		}
		color.Red("%v", err)
	}
}

func (a *app) prompt(pending *flowgraph.PendingInput) (map[string]any, error) {
	if a.stdin == nil {
		a.stdin = bufio.NewReader(os.Stdin)
	}
	fmt.Println()
	color.Magenta("%s", pending.Message)
	if len(pending.Display) > 0 {
		printValues(pending.Display)
	}

	if len(pending.Options) > 0 {
		for i, option := range pending.Options {
			fmt.Printf("  %d) %s\n", i+1, option)
		}
		line, err := a.readLine("Choice: ")
		if err != nil {
			return nil, err
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(pending.Options) {
			line = pending.Options[n-1]
		}
		return map[string]any{"choice": line}, nil
	}

	properties, _ := pending.InputSchema["properties"].(map[string]any)
	if len(properties) == 0 {
		line, err := a.readLine("Response: ")
		if err != nil {
			return nil, err
		}
		return map[string]any{"response": line}, nil
	}
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)
	response := map[string]any{}
	for _, name := range names {
		line, err := a.readLine(name + ": ")
		if err != nil {
			return nil, err
		}
		if line == "" {
			continue
		}
		var value any
		if err := xjson.Unmarshal([]byte(line), &value); err != nil {
			value = line
		}
		response[name] = value
	}
	return response, nil
}

func (a *app) readLine(label string) (string, error) {
	fmt.Print(color.CyanString(label))
	line, err := a.stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (a *app) cancel(ctx context.Context) error {
	if a.cfg.ExecutionID == "" {
		return errors.New("-id is required")
	}
	if err := a.engine.Cancel(ctx, a.cfg.ExecutionID); err != nil {
		return err
	}
	state, err := a.engine.GetExecution(ctx, a.cfg.ExecutionID)
	if err != nil {
		return err
	}
	a.printer.state(state)
	return nil
}

func (a *app) show(ctx context.Context) error {
	if a.cfg.ExecutionID == "" {
		return errors.New("-id is required")
	}
	state, err := a.engine.GetExecution(ctx, a.cfg.ExecutionID)
	if err != nil {
		return err
	}
	if a.cfg.ShowEvents && a.events != nil {
		history, err := a.events.History(state.ID)
		if err != nil {
			return err
		}
		for _, ev := range history {
			a.printer.event(ev)
		}
	}
	a.printer.state(state)
	return nil
}

func (a *app) list(ctx context.Context) error {
	query := flowgraph.ListQuery{OwnerID: a.cfg.Owner, Limit: a.cfg.Limit}
	for _, status := range strings.Split(a.cfg.Statuses, ",") {
		if status = strings.TrimSpace(status); status != "" {
			query.Statuses = append(query.Statuses, flowgraph.ExecutionStatus(status))
		}
	}
	result, err := a.engine.ListExecutions(ctx, query)
	if err != nil {
		return err
	}
	a.printer.list(result)
	return nil
}
