package secrets

import (
	"bytes"
	"io"
)

const mask = "***"

// Masker is an io.Writer that replaces secret values with "***" on their way
// to the underlying writer.  A value split across Write calls is still
// caught: any tail of the stream that could still grow into a secret is held
// back until it either completes or stops matching.
//
// Close flushes held-back bytes; it does not close the underlying writer.
type Masker struct {
	dst     io.Writer
	secrets [][]byte
	buf     []byte
}

// Masker returns a Masker that hides this store's values.
func (s *Store) Masker(dst io.Writer) *Masker {
	return NewMasker(dst, s.valueList())
}

func NewMasker(dst io.Writer, values []string) *Masker {
	secrets := make([][]byte, 0, len(values))
	for _, val := range values {
		if val != "" {
			secrets = append(secrets, []byte(val))
		}
	}
	return &Masker{dst: dst, secrets: secrets}
}

func (m *Masker) Write(p []byte) (int, error) {
	m.buf = append(m.buf, p...)
	for {
		idx, size := m.find()
		if idx < 0 {
			break
		}
		if err := m.emit(m.buf[:idx]); err != nil {
			return len(p), err
		}
		if _, err := io.WriteString(m.dst, mask); err != nil {
			return len(p), err
		}
		m.buf = m.buf[idx+size:]
	}
	hold := m.partialTail()
	if flushable := len(m.buf) - hold; flushable > 0 {
		if err := m.emit(m.buf[:flushable]); err != nil {
			return len(p), err
		}
		m.buf = append(m.buf[:0:0], m.buf[flushable:]...)
	}
	return len(p), nil
}

// Close flushes any held-back partial match.
func (m *Masker) Close() error {
	if len(m.buf) == 0 {
		return nil
	}
	err := m.emit(m.buf)
	m.buf = nil
	return err
}

func (m *Masker) emit(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := m.dst.Write(p)
	return err
}

// find returns the position and length of the earliest complete secret in the
// buffer, preferring the longest on ties; or (-1, 0).
func (m *Masker) find() (int, int) {
	idx, size := -1, 0
	for _, secret := range m.secrets {
		i := bytes.Index(m.buf, secret)
		if i < 0 {
			continue
		}
		if idx < 0 || i < idx || (i == idx && len(secret) > size) {
			idx, size = i, len(secret)
		}
	}
	return idx, size
}

// partialTail returns how many trailing buffer bytes are a proper prefix of
// some secret, and so must be held back.
func (m *Masker) partialTail() int {
	hold := 0
	for _, secret := range m.secrets {
		max := len(secret) - 1
		if max > len(m.buf) {
			max = len(m.buf)
		}
		for k := max; k > hold; k-- {
			if bytes.Equal(m.buf[len(m.buf)-k:], secret[:k]) {
				hold = k
				break
			}
		}
	}
	return hold
}
