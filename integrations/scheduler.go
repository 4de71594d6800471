package integrations

import (
	"sync"
	"time"
)

// Task is a scheduled periodic job. Cancel is safe to call more than once.
type Task interface {
	Cancel()
}

// Scheduler runs fn every interval until the returned task is cancelled.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Task
}

// TickerScheduler runs each task on its own goroutine driven by a time.Ticker.
type TickerScheduler struct {
	wg sync.WaitGroup
}

func NewTickerScheduler() *TickerScheduler { return &TickerScheduler{} }

func (s *TickerScheduler) Every(interval time.Duration, fn func()) Task {
	t := &tickerTask{quit: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-t.quit:
				return
			}
		}
	}()
	return t
}

// Wait blocks until every cancelled task goroutine has exited.
func (s *TickerScheduler) Wait() { s.wg.Wait() }

type tickerTask struct {
	once sync.Once
	quit chan struct{}
}

func (t *tickerTask) Cancel() {
	t.once.Do(func() { close(t.quit) })
}
