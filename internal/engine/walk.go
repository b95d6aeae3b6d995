package engine

import (
	"context"

	"github.com/shaiso/autonet/internal/domain"
)

// skippedResult — значение result у пропущенных и служебных job'ов.
const skippedResult = "skipped"

// walk — основной цикл обхода графа g.
//
// device задан только при per-device обходе. В этом случае, как и при
// per_service_with_workflow_targets, до каждого job'а отслеживается
// множество дошедших устройств.
func (e *Engine) walk(ctx context.Context, run *Run, g *domain.Graph, method domain.RunMethod, device *domain.Device) (*domain.Result, error) {
	tracking := method.Tracking() || device != nil
	// При workflow targets рёбра выбираются по непустым множествам summary,
	// в остальных режимах — только по фактическому исходу job'а.
	byOutcome := !method.Tracking()

	startTargets := run.TargetDevices
	if device != nil {
		startTargets = []*domain.Device{device}
	}
	store := make(map[string]*domain.Device, len(startTargets))
	initial := make([]string, 0, len(startTargets))
	for _, d := range startTargets {
		store[d.Name] = d
		initial = append(initial, d.Name)
	}

	var (
		queue   readyQueue
		counts  = make(map[string]int)
		visited = make(map[string]bool)
		tracker = newTargetTracker()
	)
	for _, j := range g.StartJobsFor(run.StartJobs) {
		tracker.add(j.Name, initial...)
		queue.push(j)
	}

	for queue.len() > 0 {
		if stopped(ctx, run) {
			e.logger.Info("graph walk aborted", "run_id", run.ID, "graph", g.Name)
			return domain.Aborted(), nil
		}

		job := queue.pop()
		if counts[job.Name] >= job.MaxRuns() {
			continue
		}
		counts[job.Name]++
		visited[job.Name] = true

		var res *domain.Result
		if job.IsSentinel() || job.Skipped(g.Name) {
			res = &domain.Result{Success: job.SkipOutcome() == domain.OutcomeSuccess, Result: skippedResult}
			if tracking {
				// Пропуск не меняет набор устройств: все идут дальше как успешные.
				res.Summary = &domain.Summary{Success: tracker.get(job.Name), Failure: []string{}}
			}
		} else {
			inv := &Invocation{
				Run:      run,
				Graph:    g,
				Job:      substitute(run, job),
				Device:   device,
				Tracking: tracking,
				Attempt:  counts[job.Name],
			}
			if tracking {
				inv.Targets = e.lookup(store, tracker.get(job.Name))
			}

			var err error
			res, err = e.invoke(ctx, inv)
			if err != nil {
				return nil, err
			}
			if res == nil {
				continue
			}
		}
		run.SetResult(job.Name, res)

		outcome := res.Outcome()
		if !tracking {
			run.WriteProgress("progress/job/"+string(outcome), 1, ProgressIncrement)
		}

		var summary *domain.Summary
		if tracking {
			summary = effectiveSummary(res, tracker.get(job.Name))
		}

		for _, edgeType := range domain.Outcomes {
			if byOutcome && edgeType != outcome {
				continue
			}
			var moved []string
			if tracking {
				moved = summary.Names(edgeType)
				if len(moved) == 0 {
					continue
				}
			}
			for _, edge := range g.OutgoingEdges(job.Name, edgeType) {
				dst, ok := g.Job(edge.Destination)
				if !ok {
					continue
				}
				if tracking {
					tracker.add(dst.Name, moved...)
					run.WriteProgress("edges/"+edge.ID.String(), len(moved), ProgressIncrement)
				} else {
					run.WriteProgress("edges/"+edge.ID.String(), "DONE", ProgressSet)
				}
				queue.push(dst)
			}
		}
	}

	var result *domain.Result
	if tracking {
		result = aggregateTracking(initial, tracker.get(domain.EndJobName))
	} else {
		result = aggregateVisited(visited)
	}

	if run.IsMain() {
		if minutes := effortMinutes(g, result); minutes > 0 {
			run.AddEffort(minutes)
		}
	}

	e.logger.Debug("graph walk finished",
		"run_id", run.ID,
		"graph", g.Name,
		"success", result.Success,
		"jobs_visited", len(visited),
	)
	return result, nil
}

// lookup возвращает устройства по именам, дополняя store через DeviceResolver.
func (e *Engine) lookup(store map[string]*domain.Device, names []string) []*domain.Device {
	var missing []string
	for _, n := range names {
		if _, ok := store[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		for _, d := range e.resolve(missing) {
			store[d.Name] = d
		}
	}

	devices := make([]*domain.Device, 0, len(names))
	for _, n := range names {
		if d, ok := store[n]; ok {
			devices = append(devices, d)
		} else {
			devices = append(devices, &domain.Device{Name: n})
		}
	}
	return devices
}

// stopped проверяет флаг остановки. Отменённый ctx останавливает run.
func stopped(ctx context.Context, run *Run) bool {
	if ctx.Err() != nil {
		run.Stop()
	}
	return run.Stopped()
}
