// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package ingest

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum time between two forwarded messages
const DefaultInterval = 5 * time.Second

// Gate admits at most one message per interval. There is one gate per process, it is
// not partitioned by device.
type Gate struct {
	mutex    sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewGate returns a gate with the given interval. A non-positive interval selects DefaultInterval.
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{interval: interval, now: time.Now}
}

// Allow reports whether a message may pass now. An admitted message starts a new interval.
func (g *Gate) Allow() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}

// Remaining returns the time until the gate opens again
func (g *Gate) Remaining() time.Duration {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.last.IsZero() {
		return 0
	}
	remaining := g.interval - g.now().Sub(g.last)
	if remaining < 0 {
		return 0
	}
	return remaining
}
