package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Job is one named background agent run on a cron schedule.
type Job struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
}

// JobState records the outcome of a job's most recent run.
type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs"`
	LastStatus  string `json:"lastStatus"`
	LastError   string `json:"lastError,omitempty"`
}

// Service schedules the background agents. OnJob receives the job
// name and returns a short result summary; outcomes persist to a JSON
// state file across restarts.
type Service struct {
	statePath string
	mu        sync.Mutex
	jobs      []Job
	states    map[string]JobState
	OnJob     func(ctx context.Context, name string) (string, error)
	cron      *rcron.Cron
	cancel    context.CancelFunc
}

func NewService(statePath string, jobs []Job) *Service {
	return &Service{
		statePath: statePath,
		jobs:      jobs,
		states:    make(map[string]JobState),
	}
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load state: %v", err)
	}

	s.cron = rcron.New(rcron.WithSeconds())
	for _, job := range s.jobs {
		if job.Schedule == "" {
			continue
		}
		j := job
		if _, err := s.cron.AddFunc(j.Schedule, func() {
			s.executeJob(runCtx, j)
		}); err != nil {
			cancel()
			return fmt.Errorf("register job %s (%s): %w", j.Name, j.Schedule, err)
		}
	}

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", len(s.jobs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	log.Printf("[cron] stopped")
}

// RunNow executes one named job immediately, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) (string, error) {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.run(ctx, job)
		}
	}
	return "", fmt.Errorf("unknown job: %s", name)
}

func (s *Service) executeJob(ctx context.Context, job Job) {
	if _, err := s.run(ctx, job); err != nil {
		log.Printf("[cron] job %s error: %v", job.Name, err)
	}
}

func (s *Service) run(ctx context.Context, job Job) (string, error) {
	log.Printf("[cron] executing job %s", job.Name)
	if s.OnJob == nil {
		return "", fmt.Errorf("no OnJob handler set")
	}

	result, err := s.OnJob(ctx, job.Name)

	s.mu.Lock()
	state := JobState{LastRunAtMs: time.Now().UnixMilli(), LastStatus: "ok"}
	if err != nil {
		state.LastStatus = "error"
		state.LastError = err.Error()
	} else {
		log.Printf("[cron] job %s result: %s", job.Name, truncate(result, 100))
	}
	s.states[job.Name] = state
	s.mu.Unlock()

	if saveErr := s.save(); saveErr != nil {
		log.Printf("[cron] save state: %v", saveErr)
	}
	return result, err
}

// States returns a copy of each job's last-run record.
func (s *Service) States() map[string]JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobState, len(s.states))
	for name, state := range s.states {
		out[name] = state
	}
	return out
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	states := make(map[string]JobState)
	if err := json.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}

	s.mu.Lock()
	s.states = states
	s.mu.Unlock()
	return nil
}

func (s *Service) save() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.states, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(s.statePath, data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
