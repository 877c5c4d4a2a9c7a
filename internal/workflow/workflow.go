// Package workflow loads multi-step task batches from YAML files and
// submits them to the swarm.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nidhogg/nuka-swarm/internal/swarm"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Step is one task in a workflow.
type Step struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description,omitempty"`
	Priority       int    `yaml:"priority,omitempty"`
	Specialization string `yaml:"specialization,omitempty"`
	Timeout        *int   `yaml:"timeout,omitempty"`
}

// Workflow is a named list of steps.
type Workflow struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`

	// Source is the file the workflow was read from, if any.
	Source string `yaml:"-"`
}

// Submitter accepts tasks; *swarm.Swarm satisfies it.
type Submitter interface {
	AddTask(ctx context.Context, description string, opts ...swarm.TaskOption) (int64, error)
}

// Parse decodes and validates one workflow document.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks that the workflow is named and every step has a name.
func (wf *Workflow) Validate() error {
	if strings.TrimSpace(wf.Name) == "" {
		return errors.New("workflow name is required")
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", wf.Name)
	}
	for i, st := range wf.Steps {
		if strings.TrimSpace(st.Name) == "" {
			return fmt.Errorf("workflow %q step %d: name is required", wf.Name, i+1)
		}
		if st.Timeout != nil && *st.Timeout < 0 {
			return fmt.Errorf("workflow %q step %q: timeout must not be negative", wf.Name, st.Name)
		}
	}
	return nil
}

// LoadFile reads a workflow from path.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	wf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	wf.Source = path
	return wf, nil
}

// LoadDir reads every *.yml and *.yaml file in dir, sorted by file name.
// A missing directory yields no workflows.
func LoadDir(dir string, logger *zap.Logger) ([]*Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("workflow dir not found", zap.String("dir", dir))
			return nil, nil
		}
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yml", ".yaml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	out := make([]*Workflow, 0, len(files))
	for _, f := range files {
		wf, err := LoadFile(filepath.Join(dir, f))
		if err != nil {
			return nil, err
		}
		logger.Info("loaded workflow",
			zap.String("name", wf.Name),
			zap.String("file", f),
			zap.Int("steps", len(wf.Steps)))
		out = append(out, wf)
	}
	return out, nil
}

// Describe returns the task description submitted for st.
func (wf *Workflow) Describe(st Step) string {
	if d := strings.TrimSpace(st.Description); d != "" {
		return d
	}
	return wf.Name + ": " + st.Name
}

// Submit enqueues every step in order and returns the task ids. It stops
// at the first rejected step.
func Submit(ctx context.Context, s Submitter, wf *Workflow) ([]int64, error) {
	ids := make([]int64, 0, len(wf.Steps))
	for _, st := range wf.Steps {
		opts := []swarm.TaskOption{
			swarm.WithPriority(st.Priority),
			swarm.WithSpecialization(st.Specialization),
		}
		if st.Timeout != nil {
			opts = append(opts, swarm.WithTimeout(*st.Timeout))
		}
		id, err := s.AddTask(ctx, wf.Describe(st), opts...)
		if err != nil {
			return ids, fmt.Errorf("workflow %q step %q: %w", wf.Name, st.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
