// Package webhook delivers pool lifecycle events to the operator-configured
// endpoints. Delivery is best-effort with a few retries; a failing
// endpoint never blocks or fails the coordinator's core path.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// Message identifies the event type carried by a webhook POST.
type Message string

const (
	MessageStakeFound    Message = "stake_found"
	MessageStakeMatured  Message = "stake_matured"
	MessageNewStaker     Message = "new_staker"
	MessageLeavingStaker Message = "leaving_staker"
)

// payload is the POST body: {message, data}.
type payload struct {
	Message Message     `json:"message"`
	Data    interface{} `json:"data"`
}

// StakeEvent is the data record for stake_found and stake_matured. Every
// event carries the chain name so operators can share one endpoint across
// coordinators, and an id so duplicate deliveries can be dropped.
type StakeEvent struct {
	EventID     string              `json:"event_id"`
	ChainName   string              `json:"chain_name"`
	BlockHeight int64               `json:"block_height"`
	BlockHash   poolmodel.BlockHash `json:"block_hash"`
	FoundBy     string              `json:"found_by"`
	Amount      poolmodel.Money     `json:"amount"`
}

// StakerEvent is the data record for new_staker and leaving_staker.
type StakerEvent struct {
	EventID         string                    `json:"event_id"`
	ChainName       string                    `json:"chain_name"`
	CurrencyAddress poolmodel.CurrencyAddress `json:"currency_address"`
	IdentityAddress poolmodel.IdentityAddress `json:"identity_address"`
	IdentityName    string                    `json:"identity_name"`
}

// NewEventID returns a fresh event id.
func NewEventID() string {
	return uuid.NewString()
}

// Config holds webhook sender configuration.
type Config struct {
	Endpoints []string
	Timeout   time.Duration
	Retries   int
}

// Sender posts events to every configured endpoint.
type Sender struct {
	config Config
	client *http.Client
	logger *log.Logger
}

// NewSender creates a sender. A sender with no endpoints is valid and
// silently drops every event.
func NewSender(config Config, logger *log.Logger) *Sender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retries <= 0 {
		config.Retries = 3
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sender{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// Notify posts {message, data} to every endpoint in the background. It
// returns immediately; failures are logged after the retries run out.
func (s *Sender) Notify(message Message, data interface{}) {
	if len(s.config.Endpoints) == 0 {
		return
	}

	body, err := json.Marshal(payload{Message: message, Data: data})
	if err != nil {
		s.logger.Printf("webhook: failed to marshal %s event: %v", message, err)
		return
	}

	for _, endpoint := range s.config.Endpoints {
		go s.deliver(endpoint, message, body)
	}
}

func (s *Sender) deliver(endpoint string, message Message, body []byte) {
	var lastErr error
	for attempt := 0; attempt < s.config.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
		if lastErr = s.post(endpoint, body); lastErr == nil {
			return
		}
	}
	s.logger.Printf("webhook: giving up on %s event to %s: %v", message, endpoint, lastErr)
}

func (s *Sender) post(endpoint string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}
