package metrics

import (
	"sync"
	"sync/atomic"
)

var (
	sessionsTotal        atomic.Int64
	sessionsActive       atomic.Int64
	inboundChunks        atomic.Int64
	inboundBytes         atomic.Int64
	bytesRead            atomic.Int64
	outboundMessages     atomic.Int64
	outboundBytes        atomic.Int64
	batchesApplied       atomic.Int64
	commandsApplied      atomic.Int64
	commandPanics        atomic.Int64
	diagnosticsPublished atomic.Int64
	diagnosticsDelivered atomic.Int64
	diagnosticsFailed    atomic.Int64
	rpcRequests          atomic.Int64
	rpcErrors            atomic.Int64
	logDropped           atomic.Int64
	queueDepth           sync.Map // queue kind -> *atomic.Int64
)

func IncSessions() { sessionsTotal.Add(1); sessionsActive.Add(1) }
func DecSessions() { sessionsActive.Add(-1) }
func AddInbound(n int) {
	inboundChunks.Add(1)
	if n > 0 {
		inboundBytes.Add(int64(n))
	}
}
func AddBytesRead(n int) {
	if n > 0 {
		bytesRead.Add(int64(n))
	}
}
func AddOutbound(n int) {
	outboundMessages.Add(1)
	if n > 0 {
		outboundBytes.Add(int64(n))
	}
}
func AddBatch(commands int) {
	batchesApplied.Add(1)
	commandsApplied.Add(int64(commands))
}
func IncCommandPanics()        { commandPanics.Add(1) }
func IncDiagnosticsPublished() { diagnosticsPublished.Add(1) }
func IncDiagnosticsDelivered() { diagnosticsDelivered.Add(1) }
func IncDiagnosticsFailed()    { diagnosticsFailed.Add(1) }
func IncRPCRequests()          { rpcRequests.Add(1) }
func IncRPCErrors()            { rpcErrors.Add(1) }
func IncLogDropped()           { logDropped.Add(1) }

// QueueDepth returns a recorder for the summed backlog of every live queue
// of one kind, in the shape queue.Receiver.OnDepth expects. An empty kind is
// not recorded.
func QueueDepth(kind string) func(delta int) {
	if kind == "" {
		return nil
	}
	v, _ := queueDepth.LoadOrStore(kind, &atomic.Int64{})
	n := v.(*atomic.Int64)
	return func(delta int) { n.Add(int64(delta)) }
}
