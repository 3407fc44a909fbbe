package runner

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// lineStamper prefixes every complete line written to it with the time the
// line was completed, formatted as <unix seconds>.<nanoseconds>.
// A trailing line without a newline is stamped and terminated by Close.
type lineStamper struct {
	w       io.Writer
	now     func() time.Time
	partial []byte
}

func newLineStamper(w io.Writer, now func() time.Time) *lineStamper {
	return &lineStamper{w: w, now: now}
}

func (s *lineStamper) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			s.partial = append(s.partial, p...)
			break
		}
		s.partial = append(s.partial, p[:i+1]...)
		p = p[i+1:]
		if err := s.flush(); err != nil {
			return n - len(p), err
		}
	}
	return n, nil
}

func (s *lineStamper) flush() error {
	_, err := io.WriteString(s.w, stamp(s.now()))
	if err == nil {
		_, err = s.w.Write(s.partial)
	}
	s.partial = s.partial[:0]
	return err
}

func (s *lineStamper) Close() error {
	if len(s.partial) == 0 {
		return nil
	}
	s.partial = append(s.partial, '\n')
	return s.flush()
}

func stamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d ", t.Unix(), t.Nanosecond())
}
