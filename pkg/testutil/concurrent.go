// Package testutil holds helpers shared by package tests.
package testutil

import (
	"errors"
	"sync"

	dErrors "credanchor/pkg/domain-errors"
)

// Outcomes counts concurrent call results by domain error code. Successful
// calls are counted under OK; errors without a domain code under Other.
type Outcomes struct {
	mu     sync.Mutex
	counts map[dErrors.Code]int
}

const (
	OK    dErrors.Code = "ok"
	Other dErrors.Code = "other"
)

func (o *Outcomes) Count(code dErrors.Code) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[code]
}

func (o *Outcomes) Total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.counts {
		n += c
	}
	return n
}

func (o *Outcomes) add(err error) {
	code := OK
	if err != nil {
		code = Other
		var de *dErrors.Error
		if errors.As(err, &de) {
			code = de.Code
		}
	}
	o.mu.Lock()
	o.counts[code]++
	o.mu.Unlock()
}

// Race starts n goroutines behind a shared start line so they call fn as
// close together as possible, and tallies what they return.
func Race(n int, fn func(i int) error) *Outcomes {
	out := &Outcomes{counts: map[dErrors.Code]int{}}
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			<-start
			out.add(fn(i))
		})
	}
	close(start)
	wg.Wait()
	return out
}
