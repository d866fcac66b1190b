package httpcodec

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/Senhnn/shlhttp"
	"github.com/Senhnn/shlhttp/tools/shlerror"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const helloBody = "hello, shlhttp\n"

func newTestServer(t *testing.T, opts Options) *FileServer {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte(helloBody), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>index</h1>"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "index.html"), []byte("<h1>docs</h1>"), 0o644))

	opts.Root = root
	s, err := NewFileServer(opts)
	require.NoError(t, err)
	return s
}

// newPair 返回编解码器和对端fd
func newPair(t *testing.T, s *FileServer) (*codec, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return s.NewCodec(fds[0], nil).(*codec), fds[1]
}

func send(t *testing.T, fd int, p string) {
	t.Helper()
	n, err := unix.Write(fd, []byte(p))
	require.NoError(t, err)
	require.Equal(t, len(p), n)
}

func drain(fd int) []byte {
	var out []byte
	buf := make([]byte, 64<<10)
	for {
		n, err := unix.Read(fd, buf)
		if n <= 0 || err != nil {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

type parsedResponse struct {
	code    int
	headers map[string]string
	body    []byte
}

func parseResponse(t *testing.T, raw []byte) parsedResponse {
	t.Helper()
	end := bytes.Index(raw, []byte("\r\n\r\n"))
	require.GreaterOrEqual(t, end, 0, "incomplete response: %q", raw)
	lines := strings.Split(string(raw[:end]), "\r\n")
	parts := strings.SplitN(lines[0], " ", 3)
	require.Len(t, parts, 3)
	code, err := strconv.Atoi(parts[1])
	require.NoError(t, err)

	r := parsedResponse{code: code, headers: map[string]string{}, body: raw[end+4:]}
	for _, l := range lines[1:] {
		k, v, ok := strings.Cut(l, ":")
		require.True(t, ok)
		r.headers[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	return r
}

// roundTrip 发送一个请求并完整走一遍读、解析、响应、写
func roundTrip(t *testing.T, c *codec, cli int, req string) parsedResponse {
	t.Helper()
	send(t, cli, req)
	require.NoError(t, c.Read())
	st := c.ProcessRequest()
	require.Equal(t, shlhttp.Complete, st)
	require.True(t, c.ProcessResponse(st))
	interest, err := c.Write()
	require.NoError(t, err)
	require.Equal(t, shlhttp.InterestRead, interest)
	return parseResponse(t, drain(cli))
}

func TestGetFile(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{}))

	r := roundTrip(t, c, cli, "GET /hello.txt HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, 200, r.code)
	assert.Equal(t, helloBody, string(r.body))
	assert.Equal(t, strconv.Itoa(len(helloBody)), r.headers["content-length"])
	assert.Contains(t, r.headers["content-type"], "text/plain")
	assert.Equal(t, "keep-alive", r.headers["connection"])
	assert.True(t, c.KeepAlive())
}

func TestKeepAliveByVersion(t *testing.T) {
	tests := []struct {
		name string
		req  string
		want bool
	}{
		{"http11 default", "GET / HTTP/1.1\r\n\r\n", true},
		{"http11 close", "GET / HTTP/1.1\r\nConnection: close\r\n\r\n", false},
		{"http10 default", "GET / HTTP/1.0\r\n\r\n", false},
		{"http10 keep-alive", "GET / HTTP/1.0\r\nConnection: Keep-Alive\r\n\r\n", true},
	}
	s := newTestServer(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, cli := newPair(t, s)
			r := roundTrip(t, c, cli, tt.req)
			assert.Equal(t, 200, r.code)
			assert.Equal(t, tt.want, c.KeepAlive())
			if tt.want {
				assert.Equal(t, "keep-alive", r.headers["connection"])
			} else {
				assert.Equal(t, "close", r.headers["connection"])
			}
		})
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		req  string
		code int
		body string
	}{
		{"index", "GET / HTTP/1.1\r\n\r\n", 200, "<h1>index</h1>"},
		{"directory index", "GET /docs/ HTTP/1.1\r\n\r\n", 200, "<h1>docs</h1>"},
		{"query ignored", "GET /hello.txt?v=1 HTTP/1.1\r\n\r\n", 200, helloBody},
		{"not found", "GET /missing.txt HTTP/1.1\r\n\r\n", 404, "404 Not Found\n"},
		{"escape root", "GET /../etc/passwd HTTP/1.1\r\n\r\n", 403, "403 Forbidden\n"},
		{"method", "DELETE /hello.txt HTTP/1.1\r\n\r\n", 405, "405 Method Not Allowed\n"},
	}
	s := newTestServer(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, cli := newPair(t, s)
			r := roundTrip(t, c, cli, tt.req)
			assert.Equal(t, tt.code, r.code)
			assert.Equal(t, tt.body, string(r.body))
		})
	}
}

func TestHead(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{}))

	r := roundTrip(t, c, cli, "HEAD /hello.txt HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, r.code)
	assert.Empty(t, r.body)
	assert.Equal(t, strconv.Itoa(len(helloBody)), r.headers["content-length"])
}

func TestMethodNotAllowedHeader(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{}))

	r := roundTrip(t, c, cli, "POST /hello.txt HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc")
	assert.Equal(t, 405, r.code)
	assert.Equal(t, "GET, HEAD", r.headers["allow"])
	// 请求体被完整消费
	assert.Empty(t, c.in)
}

func TestMalformed(t *testing.T) {
	tests := []string{
		"GARBAGE\r\n\r\n",
		"GET /x HTTP/2.0\r\n\r\n",
		"GET relative HTTP/1.1\r\n\r\n",
		"GET / HTTP/1.1\r\nno-colon\r\n\r\n",
		"GET / HTTP/1.1\r\nContent-Length: -1\r\n\r\n",
		"POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n",
	}
	s := newTestServer(t, Options{})
	for _, req := range tests {
		t.Run(strings.Fields(req)[0], func(t *testing.T) {
			c, cli := newPair(t, s)
			send(t, cli, req)
			require.NoError(t, c.Read())
			st := c.ProcessRequest()
			require.Equal(t, shlhttp.Malformed, st)
			require.True(t, c.ProcessResponse(st))
			_, err := c.Write()
			require.NoError(t, err)

			r := parseResponse(t, drain(cli))
			assert.Equal(t, 400, r.code)
			assert.Equal(t, "close", r.headers["connection"])
			assert.False(t, c.KeepAlive())
		})
	}
}

func TestPartialRequest(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{}))

	send(t, cli, "GET /hello.txt HTTP/1.1\r\n")
	require.NoError(t, c.Read())
	assert.Equal(t, shlhttp.NoRequest, c.ProcessRequest())
	assert.False(t, c.ProcessResponse(shlhttp.NoRequest))

	send(t, cli, "Host: x\r\n\r\n")
	require.NoError(t, c.Read())
	assert.Equal(t, shlhttp.Complete, c.ProcessRequest())
}

func TestReadWouldBlockAndEOF(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{}))

	assert.ErrorIs(t, c.Read(), shlerror.ErrWouldBlock)

	require.NoError(t, unix.Shutdown(cli, unix.SHUT_WR))
	assert.True(t, errors.Is(c.Read(), io.EOF))
}

func TestEOFAfterPartialRequest(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{}))

	send(t, cli, "GET /hello.txt HTTP/1.1\r\n")
	require.NoError(t, unix.Shutdown(cli, unix.SHUT_WR))
	assert.ErrorIs(t, c.Read(), io.EOF)
}

func TestRequestTooLarge(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{MaxRequestSize: 1024}))

	send(t, cli, "GET /"+strings.Repeat("a", 2048))
	require.NoError(t, c.Read())
	assert.Equal(t, shlhttp.Malformed, c.ProcessRequest())
}

func TestPipelined(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{}))

	send(t, cli, "GET /hello.txt HTTP/1.1\r\n\r\nGET /missing HTTP/1.1\r\n\r\n")
	require.NoError(t, c.Read())

	st := c.ProcessRequest()
	require.Equal(t, shlhttp.Complete, st)
	assert.True(t, c.Buffered())
	require.True(t, c.ProcessResponse(st))
	_, err := c.Write()
	require.NoError(t, err)
	assert.Equal(t, 200, parseResponse(t, drain(cli)).code)

	st = c.ProcessRequest()
	require.Equal(t, shlhttp.Complete, st)
	assert.False(t, c.Buffered())
	require.True(t, c.ProcessResponse(st))
	_, err = c.Write()
	require.NoError(t, err)
	assert.Equal(t, 404, parseResponse(t, drain(cli)).code)
}

func TestGzip(t *testing.T) {
	s := newTestServer(t, Options{Gzip: true})
	text := strings.Repeat("compress me please\n", 200)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "big.txt"), []byte(text), 0o644))

	c, cli := newPair(t, s)
	r := roundTrip(t, c, cli, "GET /big.txt HTTP/1.1\r\nAccept-Encoding: br, gzip;q=0.8\r\n\r\n")
	require.Equal(t, 200, r.code)
	assert.Equal(t, "gzip", r.headers["content-encoding"])
	assert.Equal(t, strconv.Itoa(len(r.body)), r.headers["content-length"])
	assert.Less(t, len(r.body), len(text))

	zr, err := gzip.NewReader(bytes.NewReader(r.body))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, text, string(plain))

	// 客户端不接受gzip
	r = roundTrip(t, c, cli, "GET /big.txt HTTP/1.1\r\n\r\n")
	assert.Empty(t, r.headers["content-encoding"])
	assert.Equal(t, text, string(r.body))
}

func TestPartialWrite(t *testing.T) {
	s := newTestServer(t, Options{})
	big := bytes.Repeat([]byte("0123456789abcdef"), 256<<10) // 4MiB
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "big.bin"), big, 0o644))

	c, cli := newPair(t, s)
	send(t, cli, "GET /big.bin HTTP/1.1\r\n\r\n")
	require.NoError(t, c.Read())
	st := c.ProcessRequest()
	require.Equal(t, shlhttp.Complete, st)
	require.True(t, c.ProcessResponse(st))

	interest, err := c.Write()
	require.NoError(t, err)
	require.Equal(t, shlhttp.InterestWrite, interest)

	var raw []byte
	for i := 0; i < 100000 && interest == shlhttp.InterestWrite; i++ {
		raw = append(raw, drain(cli)...)
		interest, err = c.Write()
		require.NoError(t, err)
	}
	require.Equal(t, shlhttp.InterestRead, interest)
	raw = append(raw, drain(cli)...)

	r := parseResponse(t, raw)
	assert.Equal(t, 200, r.code)
	assert.Equal(t, big, r.body)
}

func TestNewFileServerErrors(t *testing.T) {
	_, err := NewFileServer(Options{Root: filepath.Join(t.TempDir(), "absent")})
	assert.Error(t, err)

	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err = NewFileServer(Options{Root: f})
	assert.Error(t, err)
}

func TestRelease(t *testing.T) {
	c, cli := newPair(t, newTestServer(t, Options{}))
	send(t, cli, "GET / HTTP/1.1\r\n\r\n")
	require.NoError(t, c.Read())
	c.Release()
	assert.Nil(t, c.in)
	assert.Equal(t, shlhttp.NoRequest, c.ProcessRequest())
}
