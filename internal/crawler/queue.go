package crawler

import "sync"

type nodeKind string

const (
	nodeFolder  nodeKind = "folder"
	nodeService nodeKind = "service"
	nodeLayer   nodeKind = "layer"
)

// node is one unit of work in a walk.
type node struct {
	kind  nodeKind
	url   string
	path  string // root-relative folder path, folders only
	depth int
}

// workQueue is an unbounded LIFO of pending nodes. pop blocks until a node
// is available and returns false once every pushed node has been marked
// done and nothing is left to hand out.
type workQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []node
	pending int
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) push(n node) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.pending++
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *workQueue) pop() (node, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && q.pending > 0 {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return node{}, false
	}
	last := len(q.items) - 1
	n := q.items[last]
	q.items = q.items[:last]
	return n, true
}

// done marks one popped node as finished. Children must be pushed before
// their parent is marked done.
func (q *workQueue) done() {
	q.mu.Lock()
	q.pending--
	drained := q.pending == 0
	q.mu.Unlock()
	if drained {
		q.cond.Broadcast()
	}
}
