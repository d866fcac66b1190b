package netpoll

import (
	"strings"

	"golang.org/x/sys/unix"
)

/*
** 水平触发(level-triggered):
** socket接收缓冲区不为空 有数据可读 读事件一直触发
** socket发送缓冲区不满 可以继续写入数据 写事件一直触发
**
** 边沿触发(edge-triggered):
** socket的接收缓冲区状态变化时触发读事件，即空的接收缓冲区刚接收到数据时触发读事件
** socket的发送缓冲区状态变化时触发写事件，即满的缓冲区刚空出空间时触发写事件
** 边沿触发仅触发一次，调用方必须把数据读到EAGAIN为止。
** EPOLL_CTL_MOD会重新评估就绪状态，已就绪的fd会再次上报。
 */

// Interest 注册的关注事件，同时也作为wait返回的就绪标志
type Interest uint32

const (
	// Readable 可读，包含带外数据
	Readable Interest = 1 << iota
	// Writable 可写
	Writable
	// EdgeTriggered 边沿触发
	EdgeTriggered
	// HangupError 对端关闭或者套接字错误
	// EPOLLERR和EPOLLHUP内核总会上报，EPOLLRDHUP需要显式注册
	HangupError
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvents = unix.EPOLLOUT
	errEvents   = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
)

// toEpoll 把Interest转换为epoll事件位
func (i Interest) toEpoll() uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= readEvents
	}
	if i&Writable != 0 {
		ev |= writeEvents
	}
	if i&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	if i&HangupError != 0 {
		ev |= unix.EPOLLRDHUP
	}
	return ev
}

// fromEpoll 把epoll返回的事件位转换为就绪标志，未识别的位被丢弃
func fromEpoll(ev uint32) Interest {
	var i Interest
	if ev&readEvents != 0 {
		i |= Readable
	}
	if ev&writeEvents != 0 {
		i |= Writable
	}
	if ev&errEvents != 0 {
		i |= HangupError
	}
	return i
}

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "read")
	}
	if i&Writable != 0 {
		parts = append(parts, "write")
	}
	if i&EdgeTriggered != 0 {
		parts = append(parts, "et")
	}
	if i&HangupError != 0 {
		parts = append(parts, "hup")
	}
	return strings.Join(parts, "|")
}

// Event 一次wait返回的就绪记录
type Event struct {
	Fd    int
	Flags Interest
}

const (
	// MaxTasksOnce 每次处理的普通任务数量
	MaxTasksOnce = 100

	// 单次epoll_wait最多返回的事件数
	maxEvents = 1024
)
