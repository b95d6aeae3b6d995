package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
	"github.com/shaiso/autonet/internal/mq"
	"github.com/shaiso/autonet/internal/repo"
	"github.com/shaiso/autonet/internal/runner"
	"github.com/shaiso/autonet/internal/telemetry"
)

// handleRunRequested обрабатывает событие о новом pending run.
// Пока все слоты заняты, обработчик ждёт: сообщение остаётся неподтверждённым.
func (o *Orchestrator) handleRunRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.requested payload", "error", err)
		return err
	}

	o.logger.Debug("received run.requested event", "run_id", payload.RunID)

	if o.isRunActive(payload.RunID) {
		o.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	if err := o.startRun(ctx, payload.RunID); err != nil {
		o.slots.Release(1)
		if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) || errors.Is(err, ErrRunNotFound) {
			o.logger.Debug("run not started", "run_id", payload.RunID, "reason", err)
			return nil
		}
		o.logger.Error("failed to start run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// handleRunCancel обрабатывает run.cancel. Сообщение получают все
// экземпляры; run останавливает тот, на котором он выполняется.
func (o *Orchestrator) handleRunCancel(_ context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.cancel payload", "error", err)
		return err
	}

	if err := o.CancelRun(payload.RunID); err != nil {
		o.logger.Debug("run.cancel ignored", "run_id", payload.RunID, "reason", err)
	}
	return nil
}

// startRun захватывает run и запускает его обход в отдельной горутине.
// Вызывающий должен занять слот; после обхода слот освобождается здесь.
func (o *Orchestrator) startRun(ctx context.Context, runID uuid.UUID) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	state := NewRunState(run)
	if err := o.addActiveRun(state); err != nil {
		return err
	}

	// Claim атомарен: из нескольких экземпляров run получит один
	if err := o.runRepo.Claim(ctx, run); err != nil {
		o.removeActiveRun(runID)
		if errors.Is(err, repo.ErrInvalidState) {
			return ErrRunNotPending
		}
		return fmt.Errorf("claim run: %w", err)
	}

	if o.metrics != nil {
		o.metrics.RunStarted()
	}

	o.logger.Info("run started",
		"run_id", runID,
		"graph", run.GraphName,
		"version", run.Version,
	)

	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		defer o.slots.Release(1)
		o.execute(ctx, state)
	}()

	return nil
}

// execute обходит граф run и сохраняет итог.
func (o *Orchestrator) execute(ctx context.Context, state *RunState) {
	run := state.Run
	logger := telemetry.WithRun(o.logger, run.ID.String(), run.GraphName)

	res, walk, err := o.walk(ctx, state, logger)
	switch {
	case err != nil:
		run.MarkFailed(err.Error())
	default:
		run.MarkFinished(res, walk.EffortMinutes())
	}
	if walk != nil {
		run.JobResults = walk.JobResults()
	}

	o.finish(ctx, state, logger)
}

// walk собирает граф версии run и обходит его.
func (o *Orchestrator) walk(ctx context.Context, state *RunState, logger *slog.Logger) (*domain.Result, *engine.Run, error) {
	run := state.Run

	version, err := o.graphRepo.GetVersion(ctx, run.GraphName, run.Version)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s v%d", ErrGraphNotFound, run.GraphName, run.Version)
		}
		return nil, nil, fmt.Errorf("get graph version: %w", err)
	}
	state.SetVersion(version.Version)

	lib, err := engine.Build(&version.Definition)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}
	entry, placeholder, err := lib.Entry(run.GraphName)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	restart, err := o.restartResults(ctx, run)
	if err != nil {
		return nil, nil, err
	}

	var targets []*domain.Device
	if len(run.Targets) > 0 {
		targets = lib.Devices(run.Targets)
	}

	walk := engine.NewRun(targets)
	walk.ID = run.ID
	walk.RunMethod = run.RunMethod
	walk.StartJobs = run.StartJobs
	walk.Payload = run.Payload
	walk.RestartRun = restart
	walk.Placeholder = placeholder
	walk.Progress = o.progress
	state.Attach(walk)

	var observer engine.Observer
	if o.metrics != nil {
		observer = o.metrics
	}

	eng := engine.New(engine.Config{
		Runner: runner.New(runner.Config{
			Registry: o.registry,
			Devices:  lib,
			Env:      o.env,
			Logger:   logger,
		}),
		Devices:  lib,
		Observer: observer,
		MaxDepth: o.maxDepth,
		Logger:   logger,
	})

	res, err := eng.Execute(ctx, walk, entry)
	return res, walk, err
}

// restartResults загружает результаты run, с которого выполняется перезапуск.
func (o *Orchestrator) restartResults(ctx context.Context, run *domain.Run) (map[string]*domain.Result, error) {
	if run.RestartFrom == nil {
		return nil, nil
	}

	prev, err := o.runRepo.GetByID(ctx, *run.RestartFrom)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("restart from %s: %w", *run.RestartFrom, ErrRunNotFound)
		}
		return nil, fmt.Errorf("get restart run: %w", err)
	}
	return prev.JobResults, nil
}

// finish сохраняет итог run и рассылает его.
// Выполняется и после остановки orchestrator'а, поэтому не зависит от ctx.
func (o *Orchestrator) finish(ctx context.Context, state *RunState, logger *slog.Logger) {
	run := state.Run

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := o.runRepo.Update(ctx, run); err != nil {
		logger.Error("failed to save run result", "error", err)
	}

	if o.publisher != nil {
		if err := o.publisher.PublishRunCompleted(ctx, run); err != nil {
			logger.Warn("failed to publish run.completed", "error", err)
		}
	}
	if o.metrics != nil {
		o.metrics.RunFinished(run)
	}
	if o.recorder != nil {
		o.recorder.RecordRun(run)
	}
	if f, ok := o.progress.(progressForgetter); ok {
		f.Forget(run.ID)
	}

	o.removeActiveRun(run.ID)

	attrs := []any{
		"status", run.Status,
		"effort_minutes", run.EffortMinutes,
		"duration", run.Duration(),
	}
	if run.Error != "" {
		logger.Warn("run failed", append(attrs, "error", run.Error)...)
		return
	}
	logger.Info("run finished", attrs...)
}
