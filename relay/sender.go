package relay

import (
	"fmt"
	"net"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// Send opens a fresh connection to the socket at path, writes text in a
// single call and closes. Nothing is read back.
func Send(path, text string, maxSize int, timeout time.Duration) error {
	if maxSize > 0 && len(text) > maxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", common.ErrMessageTooLarge, len(text), maxSize)
	}

	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write to %s: %w", path, err)
	}
	return nil
}

// Sender is the helper-side half of the relay for one operation.
type Sender struct {
	endpoints   Endpoints
	maxSize     int
	dialTimeout time.Duration
}

// NewSender returns a sender for the given endpoints.
func NewSender(endpoints Endpoints) *Sender {
	return &Sender{
		endpoints:   endpoints,
		maxSize:     common.DefaultReceiveBuffer,
		dialTimeout: common.DialTimeout,
	}
}

// SetMaxSize matches the limit to the receiving server's buffer.
func (s *Sender) SetMaxSize(n int) {
	if n > 0 {
		s.maxSize = n
	}
}

// Percent reports progress, clamped to [0, 100].
func (s *Sender) Percent(p float64) error {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return Send(s.endpoints.Percent, strconv.FormatFloat(p, 'f', -1, 64), s.maxSize, s.dialTimeout)
}

// Status reports a free-form status line. Text equal to a sentinel is
// refused so a status line can never end the operation by accident.
func (s *Sender) Status(text string) error {
	if IsSentinel(text) {
		return fmt.Errorf("%w: %q", common.ErrReservedMessage, text)
	}
	return Send(s.endpoints.Status, text, s.maxSize, s.dialTimeout)
}

// Succeeded sends the success sentinel.
func (s *Sender) Succeeded() error {
	return Send(s.endpoints.Status, common.SentinelSucceeded, s.maxSize, s.dialTimeout)
}

// Failed sends the failure sentinel.
func (s *Sender) Failed() error {
	return Send(s.endpoints.Status, common.SentinelFailed, s.maxSize, s.dialTimeout)
}

// Truncate shortens text to at most max bytes without splitting a rune.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
