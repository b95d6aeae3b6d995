package engine

import (
	"slices"
)

// targetTracker хранит для каждого job множество имён устройств,
// дошедших до него. Ключ — имя job, а не экземпляр: один job может
// получать устройства по нескольким рёбрам.
type targetTracker struct {
	sets map[string]map[string]struct{}
}

func newTargetTracker() *targetTracker {
	return &targetTracker{sets: make(map[string]map[string]struct{})}
}

// add объединяет names с множеством job.
func (t *targetTracker) add(job string, names ...string) {
	set, ok := t.sets[job]
	if !ok {
		set = make(map[string]struct{}, len(names))
		t.sets[job] = set
	}
	for _, n := range names {
		set[n] = struct{}{}
	}
}

// get возвращает отсортированное множество устройств job.
func (t *targetTracker) get(job string) []string {
	set := t.sets[job]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// has сообщает, дошло ли устройство до job.
func (t *targetTracker) has(job, name string) bool {
	_, ok := t.sets[job][name]
	return ok
}

// difference возвращает устройства job a, не дошедшие до job b.
func (t *targetTracker) difference(a, b string) []string {
	out := []string{}
	for _, n := range t.get(a) {
		if !t.has(b, n) {
			out = append(out, n)
		}
	}
	return out
}
