package relay

import (
	"time"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// Channel identifies which relay socket a message arrived on.
type Channel int

const (
	// ChannelPercent carries decimal percentages.
	ChannelPercent Channel = iota
	// ChannelStatus carries sentinels and free-form status lines.
	ChannelStatus
)

// String returns the channel name used in logs and socket file names.
func (c Channel) String() string {
	switch c {
	case ChannelPercent:
		return "percent"
	case ChannelStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Message is one relay delivery: the text of a single connection.
type Message struct {
	Channel  Channel
	Text     string
	PeerPID  int32 // 0 when the kernel did not report credentials
	Received time.Time
}

// Sink receives decoded messages. *queue.Unbounded[Message] satisfies it.
type Sink interface {
	Push(Message) bool
}

// IsSentinel reports whether text is one of the reserved terminal tokens.
func IsSentinel(text string) bool {
	return text == common.SentinelSucceeded || text == common.SentinelFailed
}
