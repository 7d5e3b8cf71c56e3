package wrcgw

import "sync/atomic"

// Metrics tracks gateway-wide counters. Port workers, the gateway and the
// broker reader/writer all call Increment* on a shared instance; an
// operator-supplied collector reads them back via Get*.
type Metrics interface {
	IncrementPacketsRead()
	IncrementPacketsWritten()
	IncrementFramesDropped()
	IncrementTasksAccepted()
	IncrementTasksRejected()
	IncrementJointsProcessed()
	IncrementReconnects()
	IncrementBrokerPublished()
	IncrementBrokerReceived()

	GetPacketsRead() int64
	GetPacketsWritten() int64
	GetFramesDropped() int64
	GetTasksAccepted() int64
	GetTasksRejected() int64
	GetJointsProcessed() int64
	GetReconnects() int64
	GetBrokerPublished() int64
	GetBrokerReceived() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	packetsRead      int64
	packetsWritten   int64
	framesDropped    int64
	tasksAccepted    int64
	tasksRejected    int64
	jointsProcessed  int64
	reconnects       int64
	brokerPublished  int64
	brokerReceived   int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementPacketsRead()     { atomic.AddInt64(&m.packetsRead, 1) }
func (m *DefaultMetrics) IncrementPacketsWritten()  { atomic.AddInt64(&m.packetsWritten, 1) }
func (m *DefaultMetrics) IncrementFramesDropped()   { atomic.AddInt64(&m.framesDropped, 1) }
func (m *DefaultMetrics) IncrementTasksAccepted()   { atomic.AddInt64(&m.tasksAccepted, 1) }
func (m *DefaultMetrics) IncrementTasksRejected()   { atomic.AddInt64(&m.tasksRejected, 1) }
func (m *DefaultMetrics) IncrementJointsProcessed() { atomic.AddInt64(&m.jointsProcessed, 1) }
func (m *DefaultMetrics) IncrementReconnects()      { atomic.AddInt64(&m.reconnects, 1) }
func (m *DefaultMetrics) IncrementBrokerPublished() { atomic.AddInt64(&m.brokerPublished, 1) }
func (m *DefaultMetrics) IncrementBrokerReceived()  { atomic.AddInt64(&m.brokerReceived, 1) }

func (m *DefaultMetrics) GetPacketsRead() int64     { return atomic.LoadInt64(&m.packetsRead) }
func (m *DefaultMetrics) GetPacketsWritten() int64  { return atomic.LoadInt64(&m.packetsWritten) }
func (m *DefaultMetrics) GetFramesDropped() int64   { return atomic.LoadInt64(&m.framesDropped) }
func (m *DefaultMetrics) GetTasksAccepted() int64   { return atomic.LoadInt64(&m.tasksAccepted) }
func (m *DefaultMetrics) GetTasksRejected() int64   { return atomic.LoadInt64(&m.tasksRejected) }
func (m *DefaultMetrics) GetJointsProcessed() int64 { return atomic.LoadInt64(&m.jointsProcessed) }
func (m *DefaultMetrics) GetReconnects() int64      { return atomic.LoadInt64(&m.reconnects) }
func (m *DefaultMetrics) GetBrokerPublished() int64 { return atomic.LoadInt64(&m.brokerPublished) }
func (m *DefaultMetrics) GetBrokerReceived() int64  { return atomic.LoadInt64(&m.brokerReceived) }

// metricsDriver wraps a Driver so every successful Publish/Receive call is counted
// without the driver implementation itself knowing about Metrics, the same
// decorator shape aznet.go used to wrap its storage Driver.
type metricsDriver struct {
	Driver
	m Metrics
}

func newMetricsDriver(d Driver, m Metrics) Driver {
	if m == nil {
		return d
	}
	return &metricsDriver{Driver: d, m: m}
}

func (d *metricsDriver) Publish(payload []byte) error {
	err := d.Driver.Publish(payload)
	if err == nil {
		d.m.IncrementBrokerPublished()
	}
	return err
}

func (d *metricsDriver) Receive() (payload []byte, err error) {
	payload, err = d.Driver.Receive()
	if err == nil {
		d.m.IncrementBrokerReceived()
	}
	return payload, err
}
