package scheduler

import (
	"github.com/OliverSchlueter/mailcmd/internal/poller"
	"sync"
	"time"
)

const DefaultHistorySize = 50

type Record struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Finished *time.Time    `json:"finished,omitempty"`
	Error    string        `json:"error,omitempty"`
	Report   poller.Report `json:"report"`
}

func (r Record) Running() bool {
	return r.Finished == nil
}

// History keeps the most recent run records, oldest first.
type History struct {
	mu      sync.RWMutex
	size    int
	records []Record
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}

	return &History{
		size:    size,
		records: []Record{},
	}
}

func (h *History) Start(id string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, Record{
		ID:      id,
		Started: at,
		Report:  poller.Report{RunID: id},
	})
	if len(h.records) > h.size {
		h.records = h.records[len(h.records)-h.size:]
	}
}

func (h *History) Finish(id string, at time.Time, report poller.Report, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.records {
		if h.records[i].ID != id {
			continue
		}
		h.records[i].Finished = &at
		h.records[i].Report = report
		if err != nil {
			h.records[i].Error = err.Error()
		}
		return
	}
}

// List returns a copy of all records, newest first.
func (h *History) List() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Record, 0, len(h.records))
	for i := len(h.records) - 1; i >= 0; i-- {
		out = append(out, h.records[i])
	}
	return out
}

func (h *History) Get(id string) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, r := range h.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}
