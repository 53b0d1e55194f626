package poller

import (
	"bufio"
	"io"
)

// Source produces one unit of input per call, blocking until it is
// available. A returned error ends the source; data returned alongside the
// error is still delivered.
type Source interface {
	Next() ([]byte, error)
}

// ChunkSource reads whatever bytes are available, up to a fixed size.
type ChunkSource struct {
	r    io.Reader
	size int
}

// NewChunkSource creates a ChunkSource reading at most size bytes per unit.
func NewChunkSource(r io.Reader, size int) *ChunkSource {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkSource{r: r, size: size}
}

// Next implements Source.
func (s *ChunkSource) Next() ([]byte, error) {
	buf := make([]byte, s.size)
	n, err := s.r.Read(buf)
	return buf[:n], err
}

// LineSource reads one newline-terminated line per unit.
type LineSource struct {
	br *bufio.Reader
}

// NewLineSource creates a LineSource over r.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{br: bufio.NewReader(r)}
}

// Next implements Source. The final line may lack a newline; it is returned
// together with io.EOF.
func (s *LineSource) Next() ([]byte, error) {
	return s.br.ReadBytes('\n')
}
