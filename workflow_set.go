package flowgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// WorkflowProvider looks up workflow definitions by id.
type WorkflowProvider interface {
	// Workflow returns ErrWorkflowNotFound for unknown ids.
	Workflow(ctx context.Context, id string) (*Workflow, error)
}

// WorkflowSet is an in-memory WorkflowProvider.
type WorkflowSet struct {
	mutex     sync.RWMutex
	workflows map[string]*Workflow
}

// NewWorkflowSet returns a set holding the given workflows.
func NewWorkflowSet(workflows ...*Workflow) *WorkflowSet {
	s := &WorkflowSet{workflows: make(map[string]*Workflow, len(workflows))}
	for _, wf := range workflows {
		s.workflows[wf.ID()] = wf
	}
	return s
}

// Add registers a workflow, replacing any with the same id.
func (s *WorkflowSet) Add(wf *Workflow) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.workflows[wf.ID()] = wf
}

func (s *WorkflowSet) Workflow(ctx context.Context, id string) (*Workflow, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, nil
}

// IDs returns the ids of all workflows in the set, sorted.
func (s *WorkflowSet) IDs() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ids := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadDir loads every .yaml and .yml file in dir. A file that fails to load
// aborts the whole load.
func LoadDir(dir string) (*WorkflowSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}
	set := NewWorkflowSet()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		wf, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if _, err := set.Workflow(context.Background(), wf.ID()); err == nil {
			return nil, fmt.Errorf("%s: duplicate workflow id %q", path, wf.ID())
		}
		set.Add(wf)
	}
	return set, nil
}
