package swi

import (
	"sync/atomic"
)

// BusMetrics contains atomic metrics for a Bus.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type BusMetrics struct {
	// CmdSendCount indicates the number of requests enqueued on the command channel.
	CmdSendCount atomic.Uint64
	// RspRecvCount indicates the number of responses consumed from the command channel.
	RspRecvCount atomic.Uint64
	// NackCount indicates the number of NACK responses.
	NackCount atomic.Uint64

	// VerifyRetryCount indicates the number of verified reads that needed a third sample.
	VerifyRetryCount atomic.Uint64
	// VerifyFailCount indicates the number of verified reads with no two-of-three agreement.
	VerifyFailCount atomic.Uint64
	// BlockReadCount indicates the number of completed block reads.
	BlockReadCount atomic.Uint64
}

func (m *BusMetrics) incCmdSendCount() {
	m.CmdSendCount.Add(1)
}

func (m *BusMetrics) incRspRecvCount() {
	m.RspRecvCount.Add(1)
}

func (m *BusMetrics) incNackCount() {
	m.NackCount.Add(1)
}

func (m *BusMetrics) incVerifyRetryCount() {
	m.VerifyRetryCount.Add(1)
}

func (m *BusMetrics) incVerifyFailCount() {
	m.VerifyFailCount.Add(1)
}

func (m *BusMetrics) incBlockReadCount() {
	m.BlockReadCount.Add(1)
}
