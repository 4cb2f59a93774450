// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/commands"
	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
	"github.com/AleutianAI/inkwell/services/pipeline/stages"
	"github.com/AleutianAI/inkwell/services/pipeline/usage"
)

// ==========================================================================
// Fakes
// ==========================================================================

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*datatypes.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*datatypes.Task)}
}

func (s *memTaskStore) Put(ctx context.Context, task *datatypes.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *task
	s.tasks[task.ID] = &copied
	return nil
}

func (s *memTaskStore) Get(ctx context.Context, id string) (*datatypes.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	copied := *task
	return &copied, nil
}

func (s *memTaskStore) Pending(ctx context.Context) ([]*datatypes.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*datatypes.Task
	for _, task := range s.tasks {
		if task.Phase == datatypes.PhaseQueued {
			copied := *task
			out = append(out, &copied)
		}
	}
	return out, nil
}

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]*datatypes.RunRecord
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]*datatypes.RunRecord)}
}

func (s *memRunStore) Put(ctx context.Context, run *datatypes.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	copied.Entries = append([]datatypes.RunEntry(nil), run.Entries...)
	s.runs[run.RunID] = &copied
	return nil
}

// only returns the single stored run; tests create one run per store.
func (s *memRunStore) only(t *testing.T) *datatypes.RunRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) != 1 {
		t.Fatalf("expected exactly 1 run record, got %d", len(s.runs))
	}
	for _, run := range s.runs {
		return run
	}
	return nil
}

type memCmdStore struct {
	mu   sync.Mutex
	cmds map[string]*commands.Command
}

func newMemCmdStore() *memCmdStore {
	return &memCmdStore{cmds: make(map[string]*commands.Command)}
}

func (s *memCmdStore) PutCommand(ctx context.Context, cmd *commands.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cmd
	s.cmds[cmd.ID] = &copied
	return nil
}

func (s *memCmdStore) GetCommand(ctx context.Context, id string) (*commands.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.cmds[id]
	if !ok {
		return nil, fmt.Errorf("command %s not found", id)
	}
	copied := *cmd
	return &copied, nil
}

// scriptedStages implements every stage with configurable behavior.
type scriptedStages struct {
	mu sync.Mutex

	researchErr   error
	researchCalls int
	blockResearch chan struct{} // when set, Research waits until closed

	draftErr   error
	draftCalls int

	// verdicts are consumed per review call; when exhausted the last one
	// repeats. Empty means never approve.
	verdicts    []datatypes.Verdict
	reviewErr   error
	reviewCalls int

	imageErr   error
	publishErr error
	publishURL string
}

func (s *scriptedStages) Research(ctx context.Context, task *datatypes.Task) (string, error) {
	s.mu.Lock()
	s.researchCalls++
	block := s.blockResearch
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.researchErr != nil {
		return "", s.researchErr
	}
	return "findings", nil
}

func (s *scriptedStages) researched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.researchCalls
}

func (s *scriptedStages) Draft(ctx context.Context, task *datatypes.Task, isRefinement bool) (*datatypes.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draftCalls++
	if s.draftErr != nil {
		return nil, s.draftErr
	}
	revision := 0
	if task.Draft != nil {
		revision = task.Draft.Revision + 1
	}
	return &datatypes.Draft{Title: "T", Body: "B", Revision: revision}, nil
}

func (s *scriptedStages) Review(ctx context.Context, task *datatypes.Task) (datatypes.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviewCalls++
	if s.reviewErr != nil {
		return datatypes.Verdict{}, s.reviewErr
	}
	if len(s.verdicts) == 0 {
		return datatypes.Verdict{Approved: false, Feedback: "not good enough"}, nil
	}
	v := s.verdicts[0]
	if len(s.verdicts) > 1 {
		s.verdicts = s.verdicts[1:]
	}
	return v, nil
}

func (s *scriptedStages) SelectImage(ctx context.Context, task *datatypes.Task) (*datatypes.ImageAsset, error) {
	if s.imageErr != nil {
		return nil, s.imageErr
	}
	return &datatypes.ImageAsset{URL: "http://img/hero"}, nil
}

func (s *scriptedStages) Publish(ctx context.Context, task *datatypes.Task) (string, error) {
	if s.publishErr != nil {
		return "", s.publishErr
	}
	if s.publishURL != "" {
		return s.publishURL, nil
	}
	return "https://site/articles/t", nil
}

// ==========================================================================
// Harness
// ==========================================================================

type harness struct {
	engine *Engine
	stages *scriptedStages
	tasks  *memTaskStore
	runs   *memRunStore
	queue  *commands.Queue
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	scripted := &scriptedStages{}
	tasks := newMemTaskStore()
	runs := newMemRunStore()
	queue := commands.NewQueue(newMemCmdStore(), nil)

	eng, err := New(Options{
		Stages: stages.Set{
			Research: scripted,
			Draft:    scripted,
			Review:   scripted,
			Images:   scripted,
			Publish:  scripted,
		},
		Tasks: tasks,
		Runs:  runs,
		Queue: queue,
		Registry: resilience.NewRegistry(resilience.BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  time.Minute,
			SuccessThreshold: 1,
		}),
		Tracker:      usage.NewTracker(),
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &harness{engine: eng, stages: scripted, tasks: tasks, runs: runs, queue: queue}
}

func (h *harness) addTask(t *testing.T, id string, budget int) {
	t.Helper()
	err := h.tasks.Put(context.Background(), &datatypes.Task{
		ID:               id,
		Topic:            "topic",
		Quality:          datatypes.QualityBalanced,
		RefinementBudget: budget,
		Phase:            datatypes.PhaseQueued,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
}

func (h *harness) task(t *testing.T, id string) *datatypes.Task {
	t.Helper()
	task, err := h.tasks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load task: %v", err)
	}
	return task
}

// ==========================================================================
// Pipeline state machine
// ==========================================================================

func TestProcessTask_HappyPathPublishes(t *testing.T) {
	h := newHarness(t)
	h.stages.verdicts = []datatypes.Verdict{{Approved: true}}
	h.addTask(t, "task-1", 3)

	if err := h.engine.ProcessTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	task := h.task(t, "task-1")
	if task.Phase != datatypes.PhasePublished {
		t.Fatalf("expected published, got %s (last error: %s)", task.Phase, task.LastError)
	}
	if task.PublishedURL == "" {
		t.Error("published task must carry its URL")
	}
	if task.Image == nil {
		t.Error("published task must carry its hero image")
	}

	run := h.runs.only(t)
	if run.CompletedAt == nil {
		t.Error("finished run must be stamped complete")
	}
	if got := run.CountPhase(datatypes.PhaseDrafting, datatypes.StepCompleted); got != 1 {
		t.Errorf("expected 1 completed draft entry, got %d", got)
	}
}

func TestProcessTask_RejectThenApprove(t *testing.T) {
	h := newHarness(t)
	h.stages.verdicts = []datatypes.Verdict{
		{Approved: false, Feedback: "too short"},
		{Approved: true},
	}
	h.addTask(t, "task-1", 2)

	if err := h.engine.ProcessTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	task := h.task(t, "task-1")
	if task.Phase != datatypes.PhasePublished {
		t.Fatalf("expected published, got %s", task.Phase)
	}
	if len(task.Feedback) != 1 || task.Feedback[0] != "too short" {
		t.Errorf("expected recorded rejection feedback, got %v", task.Feedback)
	}
	if task.Draft == nil || task.Draft.Revision != 1 {
		t.Errorf("expected the approved draft to be revision 1, got %+v", task.Draft)
	}

	run := h.runs.only(t)
	if got := run.CountPhase(datatypes.PhaseDrafting, datatypes.StepCompleted); got != 2 {
		t.Errorf("expected exactly 2 draft entries, got %d", got)
	}
	if got := run.CountPhase(datatypes.PhaseReviewing, datatypes.StepCompleted); got != 2 {
		t.Errorf("expected exactly 2 review entries, got %d", got)
	}
	if got := run.CountPhase(datatypes.PhaseReviewing, datatypes.StepRejected); got != 1 {
		t.Errorf("expected 1 rejection entry, got %d", got)
	}
	if got := run.CountPhase(datatypes.PhaseReviewing, datatypes.StepApproved); got != 1 {
		t.Errorf("expected 1 approval entry, got %d", got)
	}

	// Entries are ordered by call sequence.
	for i, entry := range run.Entries {
		if entry.Seq != i {
			t.Fatalf("entry %d has seq %d", i, entry.Seq)
		}
	}
}

func TestProcessTask_BudgetExhaustionFailsAfterExactlyNCycles(t *testing.T) {
	const budget = 3
	h := newHarness(t)
	// Default verdict: never approve.
	h.addTask(t, "task-1", budget)

	err := h.engine.ProcessTask(context.Background(), "task-1")
	if err == nil {
		t.Fatal("expected budget exhaustion error")
	}

	task := h.task(t, "task-1")
	if task.Phase != datatypes.PhaseFailed {
		t.Fatalf("expected failed, got %s", task.Phase)
	}
	if task.LastError == "" {
		t.Error("failed task must carry a reason")
	}

	if h.stages.draftCalls != budget {
		t.Errorf("expected exactly %d draft calls, got %d", budget, h.stages.draftCalls)
	}
	if h.stages.reviewCalls != budget {
		t.Errorf("expected exactly %d review calls, got %d", budget, h.stages.reviewCalls)
	}

	run := h.runs.only(t)
	if got := run.CountPhase(datatypes.PhaseReviewing, datatypes.StepRejected); got != budget {
		t.Errorf("expected %d rejection entries, got %d", budget, got)
	}
}

func TestProcessTask_ResearchFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.stages.researchErr = fmt.Errorf("research provider down")
	h.addTask(t, "task-1", 3)

	if err := h.engine.ProcessTask(context.Background(), "task-1"); err == nil {
		t.Fatal("expected research failure to propagate")
	}

	task := h.task(t, "task-1")
	if task.Phase != datatypes.PhaseFailed {
		t.Fatalf("expected failed, got %s", task.Phase)
	}
	if h.stages.draftCalls != 0 {
		t.Error("draft must not run after research failure")
	}
	if h.stages.researchCalls != 1 {
		t.Errorf("research runs once, got %d calls", h.stages.researchCalls)
	}
}

func TestProcessTask_PublishFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.stages.verdicts = []datatypes.Verdict{{Approved: true}}
	h.stages.publishErr = fmt.Errorf("cms down")
	h.addTask(t, "task-1", 3)

	if err := h.engine.ProcessTask(context.Background(), "task-1"); err == nil {
		t.Fatal("expected publish failure to propagate")
	}
	task := h.task(t, "task-1")
	if task.Phase != datatypes.PhaseFailed || task.PublishedURL != "" {
		t.Errorf("expected failed unpublished task, got phase=%s url=%q", task.Phase, task.PublishedURL)
	}
}

func TestProcessTask_TerminalTaskIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.addTask(t, "task-1", 3)
	task := h.task(t, "task-1")
	task.Phase = datatypes.PhasePublished
	h.tasks.Put(context.Background(), task)

	if err := h.engine.ProcessTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("terminal task should be a no-op, got %v", err)
	}
	if h.stages.researchCalls != 0 {
		t.Error("terminal task must not re-enter the pipeline")
	}
}

// ==========================================================================
// Single-flight
// ==========================================================================

func TestProcessTask_SingleFlightPerTaskID(t *testing.T) {
	h := newHarness(t)
	h.stages.verdicts = []datatypes.Verdict{{Approved: true}}
	h.stages.blockResearch = make(chan struct{})
	h.addTask(t, "task-1", 3)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			h.engine.ProcessTask(context.Background(), "task-1")
		}()
	}
	close(start)

	// Let the callers pile onto the in-flight run, then release it.
	time.Sleep(50 * time.Millisecond)
	close(h.stages.blockResearch)
	wg.Wait()

	if h.stages.researchCalls != 1 {
		t.Errorf("expected exactly 1 pipeline execution, research ran %d times", h.stages.researchCalls)
	}
	if task := h.task(t, "task-1"); task.Phase != datatypes.PhasePublished {
		t.Errorf("expected published, got %s", task.Phase)
	}
}

// ==========================================================================
// Lifecycle and commands
// ==========================================================================

func TestStop_IsIdempotent(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.engine.Stop(time.Second); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := h.engine.Stop(time.Second); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestStop_BeforeStartIsNoOp(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Stop(time.Second); err != nil {
		t.Fatalf("Stop before Start should be a no-op, got %v", err)
	}
}

func TestStop_DoesNotAbortInFlightStageCall(t *testing.T) {
	h := newHarness(t)
	h.stages.verdicts = []datatypes.Verdict{{Approved: true}}
	h.stages.blockResearch = make(chan struct{})
	h.addTask(t, "task-1", 3)

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for the poll loop to enter the blocked research call.
	deadline := time.After(2 * time.Second)
	for h.stages.researched() == 0 {
		select {
		case <-deadline:
			t.Fatal("research never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopErr := make(chan error, 1)
	go func() { stopErr <- h.engine.Stop(2 * time.Second) }()

	// Let the shutdown signal reach the loops while the stage is still
	// blocked. If cancellation leaked into the stage call, research would
	// return early and the task would end up failed.
	time.Sleep(50 * time.Millisecond)
	if phase := h.task(t, "task-1").Phase; phase != datatypes.PhaseResearching {
		t.Fatalf("in-flight run should still be researching, got %s", phase)
	}

	close(h.stages.blockResearch)
	if err := <-stopErr; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	task := h.task(t, "task-1")
	if task.Phase == datatypes.PhaseFailed {
		t.Fatalf("graceful stop must not fail the in-flight task: %s", task.LastError)
	}
	if task.LastError != "" {
		t.Errorf("suspended task should carry no error, got %q", task.LastError)
	}
	if h.stages.draftCalls != 0 {
		t.Error("run must suspend at the next phase boundary, not continue drafting")
	}
}

func TestPollLoop_ProcessesQueuedTasks(t *testing.T) {
	h := newHarness(t)
	h.stages.verdicts = []datatypes.Verdict{{Approved: true}}
	h.addTask(t, "task-1", 3)

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.engine.Stop(time.Second)

	deadline := time.After(2 * time.Second)
	for {
		if h.task(t, "task-1").Phase == datatypes.PhasePublished {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task never published; phase=%s", h.task(t, "task-1").Phase)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestDispatch_PauseAndResume(t *testing.T) {
	h := newHarness(t)

	h.engine.dispatch(context.Background(), &commands.Command{
		ID: "c1", Kind: commands.KindPause, Status: commands.StatusProcessing, MaxRetries: 3,
	})
	if !h.engine.Paused() {
		t.Fatal("pause command should set the paused flag")
	}

	h.engine.dispatch(context.Background(), &commands.Command{
		ID: "c2", Kind: commands.KindResume, Status: commands.StatusProcessing, MaxRetries: 3,
	})
	if h.engine.Paused() {
		t.Fatal("resume command should clear the paused flag")
	}
}

func TestDispatch_RunNowProcessesImmediately(t *testing.T) {
	h := newHarness(t)
	h.stages.verdicts = []datatypes.Verdict{{Approved: true}}
	h.addTask(t, "task-1", 3)

	h.engine.dispatch(context.Background(), &commands.Command{
		ID: "c1", Kind: commands.KindRunNow, TaskID: "task-1",
		Status: commands.StatusProcessing, MaxRetries: 3,
	})

	if task := h.task(t, "task-1"); task.Phase != datatypes.PhasePublished {
		t.Errorf("run-now should process the task, got phase %s", task.Phase)
	}
}

func TestDispatch_CancelRetiresQueuedTask(t *testing.T) {
	h := newHarness(t)
	h.addTask(t, "task-1", 3)

	h.engine.dispatch(context.Background(), &commands.Command{
		ID: "c1", Kind: commands.KindCancel, TaskID: "task-1",
		Status: commands.StatusProcessing, MaxRetries: 3,
	})

	task := h.task(t, "task-1")
	if task.Phase != datatypes.PhaseFailed {
		t.Fatalf("cancelled task should be failed, got %s", task.Phase)
	}
	if task.LastError == "" {
		t.Error("cancellation must record a reason")
	}
	if h.stages.researchCalls != 0 {
		t.Error("cancelled task must not run the pipeline")
	}
}

func TestListener_ConsumesEnqueuedCommands(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.engine.Stop(time.Second)

	id, err := h.queue.Enqueue(context.Background(), commands.KindPause, "")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		cmd, err := h.queue.Status(context.Background(), id)
		if err == nil && cmd.Status == commands.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pause command never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !h.engine.Paused() {
		t.Error("engine should be paused after the command completes")
	}
}
