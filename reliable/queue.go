package reliable

// retryQueue is a container/heap min-heap of records keyed by NextRetry.
type retryQueue []*Record

func (q retryQueue) Len() int { return len(q) }

func (q retryQueue) Less(i, j int) bool {
	if q[i].NextRetry.Equal(q[j].NextRetry) {
		return q[i].seq < q[j].seq
	}
	return q[i].NextRetry.Before(q[j].NextRetry)
}

func (q retryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *retryQueue) Push(x interface{}) {
	rec := x.(*Record)
	rec.index = len(*q)
	*q = append(*q, rec)
}

func (q *retryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.index = -1
	*q = old[:n-1]
	return rec
}
