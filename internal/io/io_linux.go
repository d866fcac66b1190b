package io

import "golang.org/x/sys/unix"

// Writev 封装writev接口，跳过空切片
func Writev(fd int, iov [][]byte) (int, error) {
	bufs := iov[:0:0]
	for _, b := range iov {
		if len(b) > 0 {
			bufs = append(bufs, b)
		}
	}
	if len(bufs) == 0 {
		return 0, nil
	}
	return unix.Writev(fd, bufs)
}

// Readv 封装readv接口
func Readv(fd int, iov [][]byte) (int, error) {
	if len(iov) == 0 {
		return 0, nil
	}
	return unix.Readv(fd, iov)
}

// Advance 丢弃iov头部已经写出的n个字节，返回剩余部分
func Advance(iov [][]byte, n int) [][]byte {
	for len(iov) > 0 && n > 0 {
		if n < len(iov[0]) {
			iov[0] = iov[0][n:]
			return iov
		}
		n -= len(iov[0])
		iov = iov[1:]
	}
	for len(iov) > 0 && len(iov[0]) == 0 {
		iov = iov[1:]
	}
	return iov
}

// Remaining iov中还未写出的字节数
func Remaining(iov [][]byte) int {
	n := 0
	for _, b := range iov {
		n += len(b)
	}
	return n
}
