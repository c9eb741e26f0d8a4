package transport

import (
	"errors"
	"io"
	"os"
	"sync"
)

// stdio joins the process's standard input and output into one stream.
// Language servers and debug adapters launched by an editor talk this way.
type stdio struct {
	reader io.Reader
	writer io.Writer

	closeOnce sync.Once
	closeErr  error
}

func newStdio(reader io.Reader, writer io.Writer) *stdio {
	// Use custom readers/writers if provided (for testing), otherwise use os.Stdin/Stdout
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &stdio{reader: reader, writer: writer}
}

func (s *stdio) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *stdio) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

// Close closes both halves when they are closable. Closing the reader
// unblocks a pending Read.
func (s *stdio) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if c, ok := s.reader.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := s.writer.(io.Closer); ok && s.writer != io.Writer(os.Stdout) {
			errs = append(errs, c.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
