package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nidhogg/nuka-swarm/internal/api"
	"github.com/nidhogg/nuka-swarm/internal/swarm"
	"go.uber.org/zap"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := newLogger("warn"); err != nil {
		t.Fatalf("warn: %v", err)
	}
}

func TestWorkflowCommandSubmitsSteps(t *testing.T) {
	sw := swarm.New(swarm.Options{}, zap.NewNop())
	defer sw.Shutdown(context.Background())
	ts := httptest.NewServer(api.NewHandler(sw, nil, nil, zap.NewNop()).Router())
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "wf.yaml")
	doc := "name: nightly\nsteps:\n  - name: index\n    priority: 2\n  - name: report\n    specialization: analysis\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"workflow", path, "--server", ts.URL})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := sw.State().PendingTasks; got != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", got)
	}
	first, err := sw.GetTaskStatus(1)
	if err != nil {
		t.Fatal(err)
	}
	if first.Description != "nightly: index" || first.Priority != 2 {
		t.Errorf("unexpected first task: %+v", first)
	}
	if !strings.Contains(out.String(), "2\treport") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestWorkflowCommandDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	os.WriteFile(path, []byte("name: x\nsteps:\n  - name: a\n    description: do a\n"), 0o644)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"workflow", path, "--dry-run", "--server", "http://127.0.0.1:1"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "do a\t") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestAPIClientReportsRejection(t *testing.T) {
	sw := swarm.New(swarm.Options{}, zap.NewNop())
	defer sw.Shutdown(context.Background())
	ts := httptest.NewServer(api.NewHandler(sw, nil, nil, zap.NewNop()).Router())
	defer ts.Close()

	c := &apiClient{base: ts.URL, http: ts.Client()}
	if _, err := c.addTask(context.Background(), addTaskBody{Description: " "}); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}
