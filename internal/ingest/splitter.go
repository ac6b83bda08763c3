package ingest

import (
	"io"
	"sync"
)

const splitChunkSize = 32 * 1024

// splitter duplicates a single-pass source stream to N consumers.
// It is the only reader of the source; each consumer sees a
// byte-for-byte copy in source order through a bounded buffer. A full
// consumer buffer blocks further source reads (backpressure) until
// that consumer drains or detaches.
type splitter struct {
	src       io.Reader
	consumers []*consumer

	mu     sync.Mutex
	srcErr error
}

type consumer struct {
	ch       chan []byte
	detached chan struct{}
	once     sync.Once

	rest []byte
	err  error
}

// newSplitter creates a splitter with n consumers buffering up to
// bufChunks chunks each. Run must be called to start delivery.
func newSplitter(src io.Reader, n, bufChunks int) *splitter {
	if bufChunks < 1 {
		bufChunks = 1
	}
	s := &splitter{src: src, consumers: make([]*consumer, n)}
	for i := range s.consumers {
		s.consumers[i] = &consumer{
			ch:       make(chan []byte, bufChunks),
			detached: make(chan struct{}),
		}
	}
	return s
}

// Run reads the source to EOF or error, fanning every chunk out to all
// attached consumers. It returns the source read error, if any.
func (s *splitter) Run() error {
	buf := make([]byte, splitChunkSize)
	for {
		n, err := s.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			for _, c := range s.consumers {
				select {
				case c.ch <- chunk:
				case <-c.detached:
				}
			}
		}
		if err == io.EOF {
			s.finish(nil)
			return nil
		}
		if err != nil {
			s.finish(err)
			return err
		}
	}
}

func (s *splitter) finish(err error) {
	s.mu.Lock()
	s.srcErr = err
	s.mu.Unlock()
	for _, c := range s.consumers {
		c.err = err
		close(c.ch)
	}
}

// SourceErr returns the source read error once Run finished.
func (s *splitter) SourceErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srcErr
}

// Reader returns consumer i as a ReadCloser. Closing it detaches the
// consumer so a stalled pipeline cannot block the source or its
// siblings.
func (s *splitter) Reader(i int) io.ReadCloser {
	return s.consumers[i]
}

func (c *consumer) Read(p []byte) (int, error) {
	if len(c.rest) > 0 {
		n := copy(p, c.rest)
		c.rest = c.rest[n:]
		return n, nil
	}
	select {
	case <-c.detached:
		return 0, io.ErrClosedPipe
	case chunk, ok := <-c.ch:
		if !ok {
			if c.err != nil {
				return 0, c.err
			}
			return 0, io.EOF
		}
		n := copy(p, chunk)
		c.rest = chunk[n:]
		return n, nil
	}
}

func (c *consumer) Close() error {
	c.once.Do(func() { close(c.detached) })
	return nil
}
