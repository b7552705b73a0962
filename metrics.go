package docdex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics from a Manager. Implement it
// to integrate with monitoring systems such as Prometheus.
type MetricsCollector interface {
	// RecordInsert is called after each insert or update.
	RecordInsert(duration time.Duration, err error)

	// RecordBatchInsert is called after each batch insert. count is the
	// number of items attempted, failed the number that were rejected.
	RecordBatchInsert(count, failed int, duration time.Duration)

	// RecordSearch is called after each search. k is the number of
	// neighbours requested.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(duration time.Duration, err error)

	// RecordSave is called after each snapshot write, including autosaves.
	RecordSave(duration time.Duration, err error)

	// RecordLoad is called after each snapshot load.
	RecordLoad(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)         {}
func (NoopMetricsCollector) RecordBatchInsert(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)         {}
func (NoopMetricsCollector) RecordSave(time.Duration, error)           {}
func (NoopMetricsCollector) RecordLoad(time.Duration, error)           {}

// BasicMetricsCollector keeps simple in-memory counters. Useful for tests
// and debugging without an external monitoring system.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64

	BatchInsertCount  atomic.Int64
	BatchInsertFailed atomic.Int64

	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64

	DeleteCount  atomic.Int64
	DeleteErrors atomic.Int64

	SaveCount  atomic.Int64
	SaveErrors atomic.Int64

	LoadCount  atomic.Int64
	LoadErrors atomic.Int64
}

func (c *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	c.InsertCount.Add(1)
	c.InsertTotalNanos.Add(int64(duration))
	if err != nil {
		c.InsertErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordBatchInsert(count, failed int, _ time.Duration) {
	c.BatchInsertCount.Add(int64(count))
	c.BatchInsertFailed.Add(int64(failed))
}

func (c *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	c.SearchCount.Add(1)
	c.SearchTotalNanos.Add(int64(duration))
	if err != nil {
		c.SearchErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	c.DeleteCount.Add(1)
	if err != nil {
		c.DeleteErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordSave(_ time.Duration, err error) {
	c.SaveCount.Add(1)
	if err != nil {
		c.SaveErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordLoad(_ time.Duration, err error) {
	c.LoadCount.Add(1)
	if err != nil {
		c.LoadErrors.Add(1)
	}
}
