package httpcodec

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

type response struct {
	code   int
	header []byte
	body   []byte
}

var gzipWriterPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return w
	},
}

func (s *FileServer) respond(req *request, keepAlive bool) *response {
	if req.method != http.MethodGet && req.method != http.MethodHead {
		return s.errorResponse(http.StatusMethodNotAllowed, keepAlive, "Allow: GET, HEAD")
	}

	target := req.target
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	for _, seg := range strings.Split(target, "/") {
		if seg == ".." {
			return s.errorResponse(http.StatusForbidden, keepAlive)
		}
	}

	name := filepath.Join(s.root, filepath.FromSlash(path.Clean(target)))
	fi, err := os.Stat(name)
	if err == nil && fi.IsDir() {
		name = filepath.Join(name, s.index)
		fi, err = os.Stat(name)
	}
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return s.errorResponse(http.StatusForbidden, keepAlive)
		}
		return s.errorResponse(http.StatusNotFound, keepAlive)
	}
	if !fi.Mode().IsRegular() {
		return s.errorResponse(http.StatusNotFound, keepAlive)
	}

	body, err := os.ReadFile(name)
	if err != nil {
		return s.errorResponse(http.StatusNotFound, keepAlive)
	}

	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(body)
	}

	var extra []string
	if s.gzip && req.gzip && compressible(ctype) && len(body) > 0 {
		if zipped, err := gzipBytes(body); err == nil {
			body = zipped
			extra = append(extra, "Content-Encoding: gzip", "Vary: Accept-Encoding")
		}
	}
	extra = append(extra, "Last-Modified: "+fi.ModTime().UTC().Format(http.TimeFormat))

	r := &response{code: http.StatusOK, body: body}
	r.header = buildHeader(r.code, ctype, len(body), keepAlive, extra...)
	if req.method == http.MethodHead {
		r.body = nil
	}
	return r
}

func (s *FileServer) errorResponse(code int, keepAlive bool, extra ...string) *response {
	body := []byte(fmt.Sprintf("%d %s\n", code, http.StatusText(code)))
	return &response{
		code:   code,
		header: buildHeader(code, "text/plain; charset=utf-8", len(body), keepAlive, extra...),
		body:   body,
	}
}

func buildHeader(code int, ctype string, length int, keepAlive bool, extra ...string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
	b.WriteString("Server: shlhttp\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(http.TimeFormat) + "\r\n")
	b.WriteString("Content-Type: " + ctype + "\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", length)
	if keepAlive {
		b.WriteString("Connection: keep-alive\r\n")
	} else {
		b.WriteString("Connection: close\r\n")
	}
	for _, h := range extra {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func compressible(ctype string) bool {
	ctype = strings.ToLower(ctype)
	if strings.HasPrefix(ctype, "text/") {
		return true
	}
	for _, t := range []string{"javascript", "json", "xml", "svg"} {
		if strings.Contains(ctype, t) {
			return true
		}
	}
	return false
}

func gzipBytes(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
