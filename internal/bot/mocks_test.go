package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/groupwatch/internal/escalation"
)

type sentMessage struct {
	channelID string
	text      string
}

type forwardedMessage struct {
	channelID     string
	fromChannelID string
	messageID     string
}

// mockNotifier records outbound traffic and signals every send on sentCh.
type mockNotifier struct {
	sendErr    error
	forwardErr error
	sent       []sentMessage
	forwarded  []forwardedMessage
	sentCh     chan sentMessage
	attempts   int
	mu         sync.Mutex
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{sentCh: make(chan sentMessage, 32)}
}

func (m *mockNotifier) SendMessage(_ context.Context, channelID, text string) (string, error) {
	m.mu.Lock()
	m.attempts++
	err := m.sendErr
	if err == nil {
		m.sent = append(m.sent, sentMessage{channelID: channelID, text: text})
	}
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	m.sentCh <- sentMessage{channelID: channelID, text: text}
	return "out-1", nil
}

func (m *mockNotifier) ForwardMessage(_ context.Context, channelID, fromChannelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forwardErr != nil {
		return m.forwardErr
	}
	m.forwarded = append(m.forwarded, forwardedMessage{channelID: channelID, fromChannelID: fromChannelID, messageID: messageID})
	return nil
}

func (m *mockNotifier) setSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *mockNotifier) sendAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *mockNotifier) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func (m *mockNotifier) forwards() []forwardedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]forwardedMessage(nil), m.forwarded...)
}

// waitSent blocks until the next send or fails the test.
func (m *mockNotifier) waitSent(t *testing.T) sentMessage {
	t.Helper()
	select {
	case s := <-m.sentCh:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return sentMessage{}
	}
}

// noSend asserts nothing is sent within a short grace period.
func (m *mockNotifier) noSend(t *testing.T) {
	t.Helper()
	select {
	case s := <-m.sentCh:
		t.Fatalf("unexpected outbound message: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

var errTransport = errors.New("transport unavailable")

// fakeClock fires timers when Advance passes their deadline.
type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
	mu     sync.Mutex
}

type fakeTimer struct {
	deadline time.Time
	c        chan time.Time
	clock    *fakeClock
	done     bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) escalation.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), c: make(chan time.Time, 1), clock: c}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if t.done || t.deadline.After(c.now) {
			continue
		}
		t.done = true
		t.c <- c.now
	}
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.done
	t.done = true
	return active
}
