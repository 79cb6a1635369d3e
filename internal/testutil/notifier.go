package testutil

import (
	"context"
	"sync"

	"torrentsready/internal/trd"
)

// DeliveredNotice is one recorded Delivered call.
type DeliveredNotice struct {
	MessengerID int64
	Title       string
	Ref         string
}

// RecordingNotifier remembers every notice it is asked to send.
type RecordingNotifier struct {
	mu        sync.Mutex
	consent   []int64
	delivered []DeliveredNotice
}

var _ trd.Notifier = (*RecordingNotifier)(nil)

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) ConsentRequired(_ context.Context, messengerID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.consent = append(n.consent, messengerID)
	return nil
}

func (n *RecordingNotifier) Delivered(_ context.Context, messengerID int64, title, ref string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, DeliveredNotice{MessengerID: messengerID, Title: title, Ref: ref})
	return nil
}

// ConsentPrompts returns the messenger ids prompted for consent, in order.
func (n *RecordingNotifier) ConsentPrompts() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.consent...)
}

func (n *RecordingNotifier) DeliveredNotices() []DeliveredNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]DeliveredNotice(nil), n.delivered...)
}

// RecordingMetrics counts calls made through trd.Metrics.
type RecordingMetrics struct {
	mu             sync.Mutex
	Ingestions     map[string]int
	Cycles         int
	ContentsReady  int
	Deliveries     map[trd.Outcome]int
	ActiveTorrents int
}

var _ trd.Metrics = (*RecordingMetrics)(nil)

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{
		Ingestions: make(map[string]int),
		Deliveries: make(map[trd.Outcome]int),
	}
}

func (m *RecordingMetrics) IngestionFinished(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ingestions[result]++
}

func (m *RecordingMetrics) ReconcileCycleFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cycles++
}

func (m *RecordingMetrics) ContentReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContentsReady++
}

func (m *RecordingMetrics) DeliveryFinished(outcome trd.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deliveries[outcome]++
}

func (m *RecordingMetrics) SetActiveTorrents(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActiveTorrents = n
}
