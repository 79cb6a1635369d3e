package outbound

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"torrentsready/internal/trd"
)

// SentDocument records one delivered artifact.
type SentDocument struct {
	MessengerID int64
	Name        string
	Data        []byte
}

// MemoryOutbound keeps delivered artifacts in memory. Useful for testing.
// This implementation is safe for concurrent use.
type MemoryOutbound struct {
	mu        sync.Mutex
	known     map[int64]bool
	sent      []SentDocument
	failNext  error
	sendCalls int
}

var (
	_ trd.Outbound        = (*MemoryOutbound)(nil)
	_ trd.ConsentRecorder = (*MemoryOutbound)(nil)
)

func NewMemoryOutbound() *MemoryOutbound {
	return &MemoryOutbound{known: make(map[int64]bool)}
}

// Allow marks messengerID as a known recipient.
func (m *MemoryOutbound) Allow(messengerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[messengerID] = true
}

// FailNext makes the next SendDocument return err.
func (m *MemoryOutbound) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Sent returns a copy of everything delivered so far.
func (m *MemoryOutbound) Sent() []SentDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentDocument, len(m.sent))
	copy(out, m.sent)
	return out
}

// SendCalls counts SendDocument calls, including failed ones.
func (m *MemoryOutbound) SendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCalls
}

func (m *MemoryOutbound) IsKnownRecipient(_ context.Context, messengerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known[messengerID], nil
}

func (m *MemoryOutbound) RecordConsent(_ context.Context, messengerID int64) error {
	m.Allow(messengerID)
	return nil
}

func (m *MemoryOutbound) SendDocument(_ context.Context, messengerID int64, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++

	if err := m.failNext; err != nil {
		m.failNext = nil
		return "", err
	}
	if !m.known[messengerID] {
		return "", fmt.Errorf("%w: %d", trd.ErrRecipientUnreachable, messengerID)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", trd.ErrArtifactMissing, path)
		}
		return "", fmt.Errorf("%w: %v", trd.ErrTransport, err)
	}

	m.sent = append(m.sent, SentDocument{MessengerID: messengerID, Name: filepath.Base(path), Data: data})
	return "memory:" + uuid.NewString(), nil
}
