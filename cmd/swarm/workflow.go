package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func defaultServer() string {
	if s := os.Getenv("SWARM_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func newWorkflowCmd() *cobra.Command {
	var server string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "workflow <file.yaml>",
		Short: "Submit a workflow file to a running swarm",
		Long:  "Validate a YAML workflow and submit every step as a task through the HTTP API.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevelOr("info"))
			if err != nil {
				return err
			}
			defer logger.Sync()

			wf, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			logger.Info("workflow parsed", zap.String("name", wf.Name), zap.Int("steps", len(wf.Steps)))
			if dryRun {
				for _, st := range wf.Steps {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tpriority=%d\tspecialization=%q\n",
						wf.Describe(st), st.Priority, st.Specialization)
				}
				return nil
			}

			c := &apiClient{base: server, http: &http.Client{Timeout: 10 * time.Second}}
			for _, st := range wf.Steps {
				id, err := c.addTask(cmd.Context(), addTaskBody{
					Description:    wf.Describe(st),
					Priority:       st.Priority,
					Specialization: st.Specialization,
					Timeout:        st.Timeout,
				})
				if err != nil {
					return fmt.Errorf("step %q: %w", st.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, st.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", defaultServer(), "Swarm server URL (or SWARM_SERVER env)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print the steps without submitting")
	return cmd
}

func logLevelOr(def string) string {
	if flagLogLevel != "" {
		return flagLogLevel
	}
	return def
}

type addTaskBody struct {
	Description    string `json:"description"`
	Priority       int    `json:"priority"`
	Specialization string `json:"specialization,omitempty"`
	Timeout        *int   `json:"timeout,omitempty"`
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) addTask(ctx context.Context, body addTaskBody) (int64, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/swarm/add_task", bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("add task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("add task: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var out struct {
		TaskID int64 `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode add task response: %w", err)
	}
	return out.TaskID, nil
}
