package httpcodec

import (
	"bytes"
	"strconv"
	"strings"
)

var crlf2 = []byte("\r\n\r\n")

type request struct {
	method    string
	target    string
	version   string
	headers   map[string]string
	keepAlive bool
	gzip      bool
}

// parseStatus parseRequest的结果
type parseStatus int

const (
	parseIncomplete parseStatus = iota
	parseOK
	parseBad
)

// parseRequest 从buf头部解析一个完整请求，返回请求和占用的字节数
func parseRequest(buf []byte) (*request, int, parseStatus) {
	end := bytes.Index(buf, crlf2)
	if end < 0 {
		return nil, 0, parseIncomplete
	}
	lines := strings.Split(string(buf[:end]), "\r\n")

	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 || parts[0] == "" || !strings.HasPrefix(parts[1], "/") {
		return nil, 0, parseBad
	}
	req := &request{
		method:  parts[0],
		target:  parts[1],
		version: parts[2],
		headers: make(map[string]string, len(lines)-1),
	}
	switch req.version {
	case "HTTP/1.1":
		req.keepAlive = true
	case "HTTP/1.0":
	default:
		return nil, 0, parseBad
	}

	for _, line := range lines[1:] {
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, 0, parseBad
		}
		name := strings.ToLower(strings.TrimSpace(line[:i]))
		req.headers[name] = strings.TrimSpace(line[i+1:])
	}

	switch strings.ToLower(req.headers["connection"]) {
	case "close":
		req.keepAlive = false
	case "keep-alive":
		req.keepAlive = true
	}
	for _, enc := range strings.Split(req.headers["accept-encoding"], ",") {
		if strings.EqualFold(strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]), "gzip") {
			req.gzip = true
		}
	}

	// 不支持分块请求体
	if _, ok := req.headers["transfer-encoding"]; ok {
		return nil, 0, parseBad
	}

	size := end + len(crlf2)
	if cl, ok := req.headers["content-length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, 0, parseBad
		}
		// 请求体读完才算完整，内容直接丢弃
		if len(buf) < size+n {
			return nil, 0, parseIncomplete
		}
		size += n
	}
	return req, size, parseOK
}
