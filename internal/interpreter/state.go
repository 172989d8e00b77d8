// internal/interpreter/state.go
package interpreter

import (
	"sync"

	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
)

// runState is the transient state of one search call: the accumulated bills,
// the debt flag, and the inline-save latch. It survives job restarts within
// the same call so partial progress is not lost, and it receives intercepted
// downloads on browser event goroutines, hence the mutex.
type runState struct {
	logger *zap.Logger

	mu        sync.Mutex
	debt      bool
	bills     []schemas.Bill
	seen      map[string]bool
	savedOnce bool
}

var _ schemas.DownloadSink = (*runState)(nil)

func newRunState(logger *zap.Logger) *runState {
	return &runState{
		logger: logger,
		seen:   make(map[string]bool),
	}
}

// OnDownload receives the extracted text of an intercepted document and
// records it as an inline-content bill.
func (s *runState) OnDownload(filename, text string) {
	s.logger.Info("Download captured as bill",
		zap.String("filename", filename), zap.Int("text_length", len(text)))
	s.addBills([]schemas.Bill{{Content: text}})
}

// addBills appends bills not already accumulated this run.
func (s *runState) addBills(bills []schemas.Bill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bills {
		if b.URL == "" && b.Content == "" {
			continue
		}
		if s.seen[b.Key()] {
			continue
		}
		s.seen[b.Key()] = true
		s.bills = append(s.bills, b)
	}
}

func (s *runState) setDebt(debt bool) {
	s.mu.Lock()
	s.debt = debt
	s.mu.Unlock()
}

func (s *runState) snapshot() (bills []schemas.Bill, debt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.Bill(nil), s.bills...), s.debt
}

// markSaved latches the inline save so the query handler persists at most
// once per run; the finalizer saves regardless, relying on gateway dedup.
func (s *runState) markSaved() (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.savedOnce {
		return false
	}
	s.savedOnce = true
	return true
}
