// Package idpool is a min-priority queue of freed thread identifiers,
// used by registry.Registry to prefer low ids on reassignment.
package idpool

// Pool implements container/heap.Interface over a slice of freed ids,
// always popping the lowest one.
type Pool []int32

func (p Pool) Len() int            { return len(p) }
func (p Pool) Less(i, j int) bool  { return p[i] < p[j] }
func (p Pool) Swap(i, j int)       { p[i], p[j] = p[j], p[i] }
func (p *Pool) Push(x interface{}) { *p = append(*p, x.(int32)) }

func (p *Pool) Pop() interface{} {
	old := *p
	n := len(old)
	v := old[n-1]
	*p = old[:n-1]
	return v
}
