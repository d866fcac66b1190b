// Package httpcodec 是HTTP/1.x静态文件服务的编解码器，每个连接一个实例
package httpcodec

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/Senhnn/shlhttp"
)

// DefaultMaxRequestSize 请求头和请求体加起来的上限，超过按格式错误处理
const DefaultMaxRequestSize = 64 << 10

// Options 文件服务参数
type Options struct {
	// Root 文档根目录
	Root string
	// Index 请求目录时返回的文件
	Index string
	// Gzip 客户端接受时压缩文本类响应
	Gzip bool
	// MaxRequestSize 单个请求的最大字节数
	MaxRequestSize int
}

// FileServer 保存所有连接共享的配置，NewCodec为每个连接创建编解码器
type FileServer struct {
	root    string
	index   string
	gzip    bool
	maxSize int
}

// NewFileServer 检查文档根目录并创建FileServer
func NewFileServer(opts Options) (*FileServer, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("httpcodec: resolve root %q: %w", opts.Root, err)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("httpcodec: stat root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("httpcodec: root %q is not a directory", root)
	}

	s := &FileServer{
		root:    root,
		index:   opts.Index,
		gzip:    opts.Gzip,
		maxSize: opts.MaxRequestSize,
	}
	if s.index == "" {
		s.index = "index.html"
	}
	if s.maxSize <= 0 {
		s.maxSize = DefaultMaxRequestSize
	}
	return s, nil
}

// Root 文档根目录的绝对路径
func (s *FileServer) Root() string {
	return s.root
}

// NewCodec 满足shlhttp.CodecFactory
func (s *FileServer) NewCodec(fd int, remote net.Addr) shlhttp.Codec {
	return &codec{
		fd:     fd,
		remote: remote,
		srv:    s,
		in:     make([]byte, 0, readChunk),
	}
}
