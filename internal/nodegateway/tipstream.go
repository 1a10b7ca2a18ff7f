package nodegateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// tipTopic is the subscription topic the daemon publishes new block hashes
// on; the payload of each message is the raw 32-byte hash.
const tipTopic = "hash"

// reconnectDelay is how long the stream waits before redialing after a
// socket error.
const reconnectDelay = 5 * time.Second

// recvTimeout bounds each blocking receive so the stream can notice a
// cancelled context between messages.
const recvTimeout = 1 * time.Second

// TipStream subscribes to one daemon's block-notification socket and
// delivers every new chain tip on Tips. The stream is infinite and
// non-restartable from the consumer's point of view: transient disconnects
// are handled by reconnecting internally, and the channel only closes when
// Run returns.
type TipStream struct {
	chain    string
	endpoint string
	tips     chan poolmodel.BlockHash
	logger   *log.Logger
}

// NewTipStream creates a stream for the block-notification socket on the
// given local port.
func NewTipStream(chainName string, port int, logger *log.Logger) *TipStream {
	if logger == nil {
		logger = log.Default()
	}
	return &TipStream{
		chain:    chainName,
		endpoint: fmt.Sprintf("tcp://127.0.0.1:%d", port),
		tips:     make(chan poolmodel.BlockHash, 64),
		logger:   logger,
	}
}

// Tips returns the channel of new tip hashes. The channel is closed when
// Run returns.
func (s *TipStream) Tips() <-chan poolmodel.BlockHash {
	return s.tips
}

// Run consumes the socket until ctx is cancelled, reconnecting after any
// socket-level failure.
func (s *TipStream) Run(ctx context.Context) error {
	defer close(s.tips)

	for {
		if err := s.consume(ctx); err != nil {
			s.logger.Printf("[%s] tip stream error, reconnecting in %s: %v", s.chain, reconnectDelay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *TipStream) consume(ctx context.Context) error {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	defer socket.Close()

	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		return fmt.Errorf("failed to set receive timeout: %w", err)
	}
	if err := socket.Connect(s.endpoint); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.endpoint, err)
	}
	if err := socket.SetSubscribe(tipTopic); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		parts, err := socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			return fmt.Errorf("receive failed: %w", err)
		}

		if len(parts) < 2 || string(parts[0]) != tipTopic {
			s.logger.Printf("[%s] ignoring malformed notification (%d parts)", s.chain, len(parts))
			continue
		}

		hash := poolmodel.BlockHash(hex.EncodeToString(parts[1]))
		select {
		case s.tips <- hash:
		case <-ctx.Done():
			return nil
		}
	}
}
