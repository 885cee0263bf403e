package mcp

import "sync"

type callResult struct {
	resp *Response
	err  error
}

// pendingTracker correlates in-flight request ids with their waiters.
// Each id resolves at most once; responses for unknown or already
// cancelled ids are dropped.
type pendingTracker struct {
	mu     sync.Mutex
	calls  map[int64]chan callResult
	failed error
}

func newPendingTracker() *pendingTracker {
	return &pendingTracker{calls: make(map[int64]chan callResult)}
}

func (p *pendingTracker) add(id int64) (chan callResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed != nil {
		return nil, p.failed
	}
	if _, exists := p.calls[id]; exists {
		return nil, ErrDuplicateID
	}
	ch := make(chan callResult, 1)
	p.calls[id] = ch
	return ch, nil
}

// deliver resolves the waiter for id. Returns false when nothing was
// waiting, which covers duplicate and unsolicited responses.
func (p *pendingTracker) deliver(id int64, res callResult) bool {
	p.mu.Lock()
	ch, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

// cancel forgets id so a late response is discarded instead of delivered.
func (p *pendingTracker) cancel(id int64) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// failAll resolves every waiter with err and rejects future adds.
func (p *pendingTracker) failAll(err error) {
	p.mu.Lock()
	if p.failed == nil {
		p.failed = err
	}
	calls := p.calls
	p.calls = make(map[int64]chan callResult)
	p.mu.Unlock()
	for _, ch := range calls {
		ch <- callResult{err: err}
	}
}
