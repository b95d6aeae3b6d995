package engine

import (
	"github.com/shaiso/autonet/internal/domain"
)

// effectiveSummary возвращает summary job'а для распространения устройств.
// Job без summary считается применённым ко всем дошедшим до него устройствам.
func effectiveSummary(res *domain.Result, incoming []string) *domain.Summary {
	if res.Summary != nil {
		return res.Summary
	}
	if res.Success {
		return &domain.Summary{Success: incoming, Failure: []string{}}
	}
	return &domain.Summary{Success: []string{}, Failure: incoming}
}

// aggregateTracking — результат tracking-обхода: устройства, не дошедшие
// до End, считаются упавшими.
func aggregateTracking(initial, reached []string) *domain.Result {
	reachedSet := make(map[string]bool, len(reached))
	for _, n := range reached {
		reachedSet[n] = true
	}

	success := []string{}
	failed := []string{}
	seen := make(map[string]bool, len(initial))
	for _, n := range initial {
		if seen[n] {
			continue
		}
		seen[n] = true
		if reachedSet[n] {
			success = append(success, n)
		} else {
			failed = append(failed, n)
		}
	}

	return &domain.Result{
		Success: len(failed) == 0,
		Summary: &domain.Summary{Success: success, Failure: failed},
	}
}

// aggregateVisited — результат обхода без отслеживания устройств:
// успех, если End был достигнут.
func aggregateVisited(visited map[string]bool) *domain.Result {
	return &domain.Result{Success: visited[domain.EndJobName]}
}

// effortMinutes считает сэкономленные человеко-минуты за обход.
func effortMinutes(g *domain.Graph, res *domain.Result) int {
	if g.EffortMinutes <= 0 {
		return 0
	}
	if g.EffortMode == domain.EffortModeDevice {
		return g.EffortMinutes * len(res.Summary.Names(domain.OutcomeSuccess))
	}
	if res.Success {
		return g.EffortMinutes
	}
	return 0
}
