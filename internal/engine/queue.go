package engine

import (
	"container/heap"

	"github.com/shaiso/autonet/internal/domain"
)

// queueItem — вхождение job в очередь готовых.
type queueItem struct {
	job *domain.Job
	seq uint64
}

// queueItems реализует heap.Interface.
//
// Больший priority выходит раньше, при равном priority — раньше вставленный.
type queueItems []queueItem

func (q queueItems) Len() int { return len(q) }

func (q queueItems) Less(i, j int) bool {
	if q[i].job.Priority != q[j].job.Priority {
		return q[i].job.Priority > q[j].job.Priority
	}
	return q[i].seq < q[j].seq
}

func (q queueItems) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queueItems) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *queueItems) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*q = old[:n-1]
	return item
}

// readyQueue — очередь готовых к выполнению job'ов.
//
// Один job может находиться в очереди несколько раз: каждое сработавшее
// ребро добавляет новое вхождение, лишние отсекаются по maximum_runs.
type readyQueue struct {
	items queueItems
	seq   uint64
}

// push добавляет job в очередь.
func (q *readyQueue) push(j *domain.Job) {
	heap.Push(&q.items, queueItem{job: j, seq: q.seq})
	q.seq++
}

// pop извлекает следующий job. Вызывать только при len() > 0.
func (q *readyQueue) pop() *domain.Job {
	return heap.Pop(&q.items).(queueItem).job
}

// len возвращает количество вхождений в очереди.
func (q *readyQueue) len() int {
	return q.items.Len()
}
