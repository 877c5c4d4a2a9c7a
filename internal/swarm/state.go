package swarm

// PerformanceView is an agent's counters with time in seconds.
type PerformanceView struct {
	CompletedCount     int     `json:"completed_count"`
	FailedCount        int     `json:"failed_count"`
	TotalExecutionTime float64 `json:"total_execution_time"`
}

// State is a consistent snapshot of queue and pool occupancy.
type State struct {
	ActiveAgents         int                     `json:"active_agents"`
	PendingTasks         int                     `json:"pending_tasks"`
	InProgressTasks      int                     `json:"in_progress_tasks"`
	CompletedTasks       int                     `json:"completed_tasks"`
	FailedTasks          int                     `json:"failed_tasks"`
	AgentSpecializations map[int][]string        `json:"agent_specializations"`
	AgentLoad            map[int]int             `json:"agent_load"`
	AgentPerformance     map[int]PerformanceView `json:"agent_performance"`
}

// Statistics aggregates lifetime throughput figures. Times are in seconds.
type Statistics struct {
	TotalTasksProcessed    int             `json:"total_tasks_processed"`
	TotalTasksFailed       int             `json:"total_tasks_failed"`
	AverageCompletionTime  float64         `json:"average_completion_time"`
	TasksPerSpecialization map[string]int  `json:"tasks_per_specialization"`
	AgentEfficiency        map[int]float64 `json:"agent_efficiency"`
	Uptime                 float64         `json:"uptime"`
}

// State returns the aggregate snapshot.
func (s *Swarm) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.tasks.Counts()
	st := State{
		ActiveAgents:         s.agents.Len(),
		PendingTasks:         c.Pending,
		InProgressTasks:      c.InProgress,
		CompletedTasks:       s.totals.completed,
		FailedTasks:          s.totals.failed,
		AgentSpecializations: make(map[int][]string, s.agents.Len()),
		AgentLoad:            make(map[int]int, s.agents.Len()),
		AgentPerformance:     make(map[int]PerformanceView, s.agents.Len()),
	}
	for _, id := range s.agents.IDs() {
		rec := s.agents.Get(id)
		st.AgentSpecializations[id] = append([]string{}, rec.Specializations...)
		st.AgentLoad[id] = rec.Load
		st.AgentPerformance[id] = PerformanceView{
			CompletedCount:     rec.Performance.CompletedCount,
			FailedCount:        rec.Performance.FailedCount,
			TotalExecutionTime: rec.Performance.TotalExecutionTime.Seconds(),
		}
	}
	return st
}

// Statistics returns throughput and efficiency figures.
func (s *Swarm) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		TotalTasksProcessed:    s.totals.completed,
		TotalTasksFailed:       s.totals.failed,
		TasksPerSpecialization: make(map[string]int, len(s.totals.perSpecialization)),
		AgentEfficiency:        make(map[int]float64, s.agents.Len()),
	}
	if s.totals.timedCompletions > 0 && s.totals.completionTime > 0 {
		stats.AverageCompletionTime = s.totals.completionTime.Seconds() / float64(s.totals.timedCompletions)
	}
	for spec, n := range s.totals.perSpecialization {
		stats.TasksPerSpecialization[spec] = n
	}
	for _, id := range s.agents.IDs() {
		stats.AgentEfficiency[id] = s.agents.Get(id).Performance.Efficiency()
	}
	if up := s.opts.Now().Sub(s.started); up > 0 {
		stats.Uptime = up.Seconds()
	}
	return stats
}
