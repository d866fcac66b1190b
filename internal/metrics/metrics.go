// Package metrics 服务器运行指标。Collector的实现必须并发安全，
// 在reactor和worker goroutine上都会被调用。
package metrics

// 连接关闭原因
const (
	ReasonHangup   = "hangup"
	ReasonTimeout  = "timeout"
	ReasonProtocol = "protocol"
	ReasonPeer     = "peer"
	ReasonShutdown = "shutdown"
	ReasonComplete = "complete"
)

// Collector 连接生命周期指标
type Collector interface {
	ConnAccepted()
	ConnRejected()
	ConnClosed(reason string)
	ActiveConns(n int)
	TaskSubmitted(kind string)
	Tick(expired int)
}

type noop struct{}

// Noop 什么也不记录的Collector
func Noop() Collector { return noop{} }

func (noop) ConnAccepted()        {}
func (noop) ConnRejected()        {}
func (noop) ConnClosed(string)    {}
func (noop) ActiveConns(int)      {}
func (noop) TaskSubmitted(string) {}
func (noop) Tick(int)             {}
