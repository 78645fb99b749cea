package tools

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

const defaultReadLimit = 256 * 1024

// FileReader 读取文件全文（readFile 动作，客户端执行）
// FileReader returns a file's text for the readFile action
type FileReader struct {
	resolve  PathResolver
	maxBytes int
}

func NewFileReader(resolve PathResolver, maxBytes int) *FileReader {
	if maxBytes <= 0 {
		maxBytes = defaultReadLimit
	}
	return &FileReader{resolve: resolve, maxBytes: maxBytes}
}

func (r *FileReader) Read(path string) Result {
	resolved, err := r.resolve(path)
	if err != nil {
		return Failure(fmt.Errorf("resolve path: %w", err))
	}
	f, err := os.Open(resolved)
	if err != nil {
		return Failure(fmt.Errorf("read file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Failure(fmt.Errorf("stat file: %w", err))
	}
	if info.IsDir() {
		return Failure(fmt.Errorf("read file: %s is a directory", path))
	}

	data, err := io.ReadAll(io.LimitReader(f, int64(r.maxBytes)+1))
	if err != nil {
		return Failure(fmt.Errorf("read file: %w", err))
	}
	truncated := len(data) > r.maxBytes
	if truncated {
		data = data[:r.maxBytes]
		// do not split a multi-byte rune
		for i := 0; i < utf8.UTFMax && len(data) > 0 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
	}
	content := string(data)
	if truncated {
		content += "\n[file truncated]"
	}
	return Result{Success: true, Content: content}
}
