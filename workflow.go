package flowgraph

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// CheckpointMode selects when the engine persists checkpoints.
type CheckpointMode string

const (
	// CheckpointEveryNode persists after every completed node.
	CheckpointEveryNode CheckpointMode = "every_node"

	// CheckpointBoundaries persists only after nodes flagged as checkpoint
	// boundaries, plus pauses and terminal transitions.
	CheckpointBoundaries CheckpointMode = "boundaries"
)

// DefaultMaxIterations bounds how many times one node may run within an
// execution unless the workflow or node says otherwise.
const DefaultMaxIterations = 10

// Config holds workflow-level execution settings.
type Config struct {
	MaxExecutionTime time.Duration  `json:"max_execution_time,omitempty" yaml:"max_execution_time,omitempty"`
	DefaultModel     string         `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	MaxIterations    int            `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	AllowCycles      *bool          `json:"allow_cycles,omitempty" yaml:"allow_cycles,omitempty"`
	CheckpointMode   CheckpointMode `json:"checkpoint_mode,omitempty" yaml:"checkpoint_mode,omitempty"`
}

// CyclesAllowed reports whether the graph may contain cycles.
func (c Config) CyclesAllowed() bool {
	return c.AllowCycles == nil || *c.AllowCycles
}

// defaultConfig leaves AllowCycles nil; CyclesAllowed treats nil as true.
func defaultConfig() Config {
	return Config{
		MaxIterations:  DefaultMaxIterations,
		CheckpointMode: CheckpointEveryNode,
	}
}

// Source is an external reference document that agent nodes may include in
// their prompts.
type Source struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Options are used to configure a workflow.
type Options struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	Config      Config    `json:"config,omitempty" yaml:"config,omitempty"`
	Nodes       []*Node   `json:"nodes" yaml:"nodes"`
	Edges       []*Edge   `json:"edges" yaml:"edges"`
	Sources     []*Source `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Workflow is an immutable, validated graph of nodes and edges.
type Workflow struct {
	id          string
	name        string
	description string
	version     string
	config      Config
	nodes       []*Node
	edges       []*Edge
	sources     []*Source
	nodesByID   map[string]*Node
	outbound    map[string][]*Edge
	sourcesByID map[string]*Source
	start       *Node
}

// New returns a validated Workflow. All structural problems are reported
// together in a single validation error.
func New(opts Options) (*Workflow, error) {
	cfg := opts.Config
	if err := mergo.Merge(&cfg, defaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to apply workflow defaults: %w", err)
	}
	name := opts.Name
	if name == "" {
		name = opts.ID
	}
	w := &Workflow{
		id:          opts.ID,
		name:        name,
		description: opts.Description,
		version:     opts.Version,
		config:      cfg,
		nodes:       opts.Nodes,
		edges:       opts.Edges,
		sources:     opts.Sources,
		nodesByID:   make(map[string]*Node, len(opts.Nodes)),
		outbound:    make(map[string][]*Edge, len(opts.Nodes)),
		sourcesByID: make(map[string]*Source, len(opts.Sources)),
	}
	for _, node := range opts.Nodes {
		if node == nil {
			continue
		}
		if _, exists := w.nodesByID[node.ID]; !exists {
			w.nodesByID[node.ID] = node
		}
		if node.Type == NodeTypeStart && w.start == nil {
			w.start = node
		}
	}
	for _, edge := range opts.Edges {
		if edge == nil {
			continue
		}
		w.outbound[edge.From] = append(w.outbound[edge.From], edge)
	}
	for _, source := range opts.Sources {
		if source != nil {
			w.sourcesByID[source.ID] = source
		}
	}
	if problems := validate(w); len(problems) > 0 {
		return nil, ValidationError(problems)
	}
	return w, nil
}

// ID returns the workflow id
func (w *Workflow) ID() string {
	return w.id
}

// Name returns the workflow name
func (w *Workflow) Name() string {
	return w.name
}

// Description returns the workflow description
func (w *Workflow) Description() string {
	return w.description
}

// Version returns the workflow version
func (w *Workflow) Version() string {
	return w.version
}

// Config returns the workflow configuration with defaults applied
func (w *Workflow) Config() Config {
	return w.config
}

// Nodes returns the workflow nodes in declaration order
func (w *Workflow) Nodes() []*Node {
	return w.nodes
}

// Edges returns the workflow edges in declaration order
func (w *Workflow) Edges() []*Edge {
	return w.edges
}

// Sources returns the declared external sources
func (w *Workflow) Sources() []*Source {
	return w.sources
}

// Start returns the start node
func (w *Workflow) Start() *Node {
	return w.start
}

// Node returns a node by id
func (w *Workflow) Node(id string) (*Node, bool) {
	node, ok := w.nodesByID[id]
	return node, ok
}

// Source returns a declared source by id
func (w *Workflow) Source(id string) (*Source, bool) {
	source, ok := w.sourcesByID[id]
	return source, ok
}

// Outbound returns the edges leaving a node in declaration order
func (w *Workflow) Outbound(id string) []*Edge {
	return w.outbound[id]
}

// StartConfig returns the decoded start node configuration
func (w *Workflow) StartConfig() (*StartConfig, error) {
	var cfg StartConfig
	if err := w.start.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MaxIterations returns the iteration limit that applies to a node.
func (w *Workflow) MaxIterations(node *Node) int {
	if node != nil && node.MaxIterations > 0 {
		return node.MaxIterations
	}
	return w.config.MaxIterations
}

// LoadFile loads a workflow from a YAML file
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return LoadBytes(data)
}

// LoadString loads a workflow from a YAML string
func LoadString(data string) (*Workflow, error) {
	return LoadBytes([]byte(data))
}

// LoadBytes loads a workflow from YAML data
func LoadBytes(data []byte) (*Workflow, error) {
	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return New(opts)
}
