package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

type printer struct {
	json    bool
	verbose bool
}

func newPrinter(asJSON, verbose bool) *printer {
	return &printer{json: asJSON, verbose: verbose}
}

func (p *printer) event(ev *flowgraph.Event) {
	if ev.Type == flowgraph.EventKeepAlive {
		return
	}
	if p.json {
		p.printJSON(ev)
		return
	}
	ts := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Type {
	case flowgraph.EventStarted:
		color.Blue("%s ▶ execution %s started (workflow %s)", ts, ev.ExecutionID, ev.WorkflowID)
	case flowgraph.EventResumed:
		color.Blue("%s ▶ execution %s resumed", ts, ev.ExecutionID)
	case flowgraph.EventNodeStarted:
		color.Cyan("%s   %s [%s] started", ts, ev.NodeID, ev.NodeType)
	case flowgraph.EventNodeCompleted:
		line := fmt.Sprintf("%s   %s [%s] completed in %s", ts, ev.NodeID, ev.NodeType, ev.Duration.Round(time.Millisecond))
		if ev.Branch != "" {
			line += fmt.Sprintf(" → %s", ev.Branch)
		}
		color.Green("%s", line)
	case flowgraph.EventNodeRetrying:
		color.Yellow("%s   %s retrying (attempt %d): %s", ts, ev.NodeID, ev.Attempt, errorText(ev.Error))
	case flowgraph.EventNodeFailed:
		color.Red("%s   %s failed: %s", ts, ev.NodeID, errorText(ev.Error))
	case flowgraph.EventCheckpointSaved:
		if p.verbose {
			color.White("%s   checkpoint saved (%d bytes)", ts, ev.Bytes)
		}
	case flowgraph.EventPaused:
		color.Magenta("%s ⏸ waiting for input at %s", ts, ev.NodeID)
	case flowgraph.EventCompleted:
		color.Green("%s ✓ execution completed", ts)
	case flowgraph.EventFailed:
		color.Red("%s ✗ execution failed: %s", ts, errorText(ev.Error))
	case flowgraph.EventCancelled:
		color.Yellow("%s ■ execution cancelled", ts)
	default:
		fmt.Printf("%s   %s\n", ts, ev.Type)
	}
}

func (p *printer) state(state *flowgraph.ExecutionState) {
	if p.json {
		p.printJSON(state)
		return
	}
	color.Blue("Execution %s", state.ID)
	fmt.Printf("  Workflow: %s\n", state.WorkflowID)
	if state.OwnerID != "" {
		fmt.Printf("  Owner:    %s\n", state.OwnerID)
	}
	fmt.Printf("  Status:   %s\n", statusColor(state.Status))
	fmt.Printf("  Steps:    %d\n", state.Step)
	if state.ActiveDuration > 0 {
		fmt.Printf("  Active:   %s\n", state.ActiveDuration.Round(time.Millisecond))
	}
	if state.Error != nil {
		color.Red("  Error:    %s", errorText(state.Error))
	}
	if state.Pending != nil {
		color.Magenta("  Waiting at %s (correlation %s)", state.Pending.NodeID, state.Pending.CorrelationID)
		fmt.Printf("    %s\n", state.Pending.Message)
	}
	if len(state.FinalOutput) > 0 {
		color.Cyan("  Outputs:")
		printValues(state.FinalOutput)
	} else if len(state.Variables) > 0 && !state.Status.IsTerminal() {
		color.Cyan("  Variables:")
		printValues(state.Variables)
	}
}

func (p *printer) list(result *flowgraph.ListResult) {
	if p.json {
		p.printJSON(result)
		return
	}
	if len(result.Entries) == 0 {
		color.Yellow("No executions found")
		return
	}
	for _, entry := range result.Entries {
		line := fmt.Sprintf("%-32s %-20s %-10s %s", entry.ExecutionID, entry.WorkflowID,
			entry.Status, entry.UpdatedAt.Local().Format(time.DateTime))
		if entry.ErrorCode != "" {
			line += " " + entry.ErrorCode
		}
		fmt.Println(line)
	}
	if result.Total > len(result.Entries) {
		color.White("%d of %d executions shown", len(result.Entries), result.Total)
	}
}

func (p *printer) printJSON(v any) {
	data, err := xjson.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printValues(values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("    %s: %s\n", k, formatValue(values[k]))
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		if strings.Contains(v, "\n") {
			return "\n      " + strings.ReplaceAll(v, "\n", "\n      ")
		}
		return v
	case nil:
		return "null"
	}
	data, err := xjson.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func errorText(err *flowgraph.ExecutionError) string {
	if err == nil {
		return ""
	}
	if err.NodeID != "" {
		return fmt.Sprintf("%s at %s: %s", err.Code, err.NodeID, err.Message)
	}
	return fmt.Sprintf("%s: %s", err.Code, err.Message)
}

func statusColor(status flowgraph.ExecutionStatus) string {
	switch status {
	case flowgraph.ExecutionStatusCompleted:
		return color.GreenString(string(status))
	case flowgraph.ExecutionStatusFailed:
		return color.RedString(string(status))
	case flowgraph.ExecutionStatusPaused, flowgraph.ExecutionStatusCancelled:
		return color.YellowString(string(status))
	}
	return color.CyanString(string(status))
}
