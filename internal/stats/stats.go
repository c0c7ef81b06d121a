// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package stats maintains the durable record of hunt attempts and the
// addresses they produced. The record lives in a single JSON document
// updated under one critical section so concurrent workers never lose
// counts.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
)

var logger = loggo.GetLogger("magpie.stats")

// Record is the persisted statistics document. Timestamps are unix
// seconds. TotalAttempts only ever grows for the life of the process;
// resetting it means deleting the backing file out of band.
type Record struct {
	TotalAttempts int            `json:"total_attempts"`
	Addresses     map[string]int `json:"ip_addresses"`
	StartTime     int64          `json:"start_time"`
	LastUpdate    int64          `json:"last_update"`
}

// Notifier receives rendered progress summaries. Pushes are
// best-effort; implementations must not block for long.
type Notifier interface {
	Push(message string)
}

// Store serializes read-modify-write cycles against the record. A
// persistence failure is logged and the in-memory copy carries the
// counts until the file is writable again.
type Store struct {
	path      string
	clock     clock.Clock
	notifier  Notifier
	pushEvery int

	mu     sync.Mutex
	record Record
	loaded bool
}

// NewStore returns a Store backed by the JSON document at path.
// notifier may be nil; pushEvery <= 0 disables progress pushes.
func NewStore(path string, clk clock.Clock, notifier Notifier, pushEvery int) (*Store, error) {
	if path == "" {
		return nil, errors.NotValidf("empty stats path")
	}
	if clk == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	return &Store{
		path:      path,
		clock:     clk,
		notifier:  notifier,
		pushEvery: pushEvery,
	}, nil
}

// Note counts one attempt that produced the given addresses. The
// load-increment-persist sequence is a single critical section; every
// Nth attempt additionally pushes a summary through the notifier, from
// outside the critical section so a slow channel cannot stall other
// workers.
func (s *Store) Note(addresses []string) {
	s.mu.Lock()
	s.loadLocked()
	s.record.TotalAttempts++
	for _, address := range addresses {
		s.record.Addresses[address]++
	}
	s.record.LastUpdate = s.clock.Now().Unix()
	if err := s.persistLocked(); err != nil {
		logger.Errorf("cannot persist statistics: %v", err)
	}
	attempts := s.record.TotalAttempts
	summary := ""
	if s.notifier != nil && s.pushEvery > 0 && attempts%s.pushEvery == 0 {
		summary = s.progressLocked()
	}
	s.mu.Unlock()

	if summary != "" {
		go s.notifier.Push(summary)
	}
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	out := s.record
	out.Addresses = make(map[string]int, len(s.record.Addresses))
	for address, count := range s.record.Addresses {
		out.Addresses[address] = count
	}
	return out
}

// loadLocked primes the in-memory record from disk exactly once. A
// missing file starts a fresh record; an unreadable one is logged and
// treated the same so the hunt never stops over statistics.
func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	now := s.clock.Now().Unix()
	s.record = Record{
		Addresses:  map[string]int{},
		StartTime:  now,
		LastUpdate: now,
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	} else if err != nil {
		logger.Errorf("cannot read statistics file %q: %v", s.path, err)
		return
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Errorf("cannot parse statistics file %q: %v", s.path, err)
		return
	}
	if rec.Addresses == nil {
		rec.Addresses = map[string]int{}
	}
	if rec.StartTime == 0 {
		rec.StartTime = now
	}
	s.record = rec
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.record, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(utils.AtomicWriteFile(s.path, data, 0644),
		"writing statistics file %q", s.path)
}

// progressLocked renders the short interim summary pushed every Nth
// attempt.
func (s *Store) progressLocked() string {
	return fmt.Sprintf("Progress: %d attempts, %d unique addresses.\nSend /stats for the full report.",
		s.record.TotalAttempts, len(s.record.Addresses))
}

// Summary renders the full statistics report: totals, duplicates and
// the most frequently seen addresses.
func (s *Store) Summary() string {
	rec := s.Snapshot()

	type addrCount struct {
		address string
		count   int
	}
	counts := make([]addrCount, 0, len(rec.Addresses))
	duplicates := 0
	for address, count := range rec.Addresses {
		counts = append(counts, addrCount{address, count})
		if count > 1 {
			duplicates++
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].address < counts[j].address
	})

	runtime := time.Duration(rec.LastUpdate-rec.StartTime) * time.Second
	if now := s.clock.Now().Unix(); now > rec.StartTime {
		runtime = time.Duration(now-rec.StartTime) * time.Second
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hunt statistics\n")
	fmt.Fprintf(&b, "Total attempts: %d\n", rec.TotalAttempts)
	fmt.Fprintf(&b, "Unique addresses: %d\n", len(rec.Addresses))
	fmt.Fprintf(&b, "Addresses seen more than once: %d\n", duplicates)
	fmt.Fprintf(&b, "Running for: %dh%02dm\n",
		int(runtime.Hours()), int(runtime.Minutes())%60)
	if len(counts) > 0 {
		fmt.Fprintf(&b, "Most frequent:\n")
		top := counts
		if len(top) > 10 {
			top = top[:10]
		}
		for _, c := range top {
			fmt.Fprintf(&b, "  %s: %dx\n", c.address, c.count)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
