package tools

import (
	"io"
	"net/http"
	"os"
	"time"
)

// Options configures the built-in tools.
type Options struct {
	// Output receives text written by the print tool. Defaults to stdout.
	Output io.Writer
	// WorkDir confines the file tool. The file tool is omitted when empty.
	WorkDir string
	// HTTPClient is used by the http tool. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Now overrides the clock of the time tool.
	Now func() time.Time
}

// Builtins returns the built-in tool catalogue.
func Builtins(opts Options) []Tool {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	tools := []Tool{
		NewEchoTool(),
		NewPrintTool(out),
		NewTimeTool(opts.Now),
		NewWaitTool(),
		NewFailTool(),
		NewRandomTool(),
		NewJSONTool(),
		NewHTTPTool(opts.HTTPClient),
	}
	if opts.WorkDir != "" {
		tools = append(tools, NewFileTool(opts.WorkDir))
	}
	return tools
}

// NewDefaultRegistry returns a registry holding the built-in tools.
func NewDefaultRegistry(opts Options) *Registry {
	return NewRegistry(Builtins(opts)...)
}
