package engine

// bidHeap keeps bid prices with the highest on top so the best bid is an
// O(1) peek. Manipulate through container/heap (Init, Push, Pop, Remove).
type bidHeap []int64

func (h bidHeap) Len() int           { return len(h) }
func (h bidHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h bidHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *bidHeap) Push(x interface{}) {
	*h = append(*h, x.(int64))
}

func (h *bidHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h bidHeap) Peek() int64 {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}

// askHeap keeps ask prices with the lowest on top.
type askHeap []int64

func (h askHeap) Len() int           { return len(h) }
func (h askHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h askHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *askHeap) Push(x interface{}) {
	*h = append(*h, x.(int64))
}

func (h *askHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h askHeap) Peek() int64 {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}
