package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type sendCall struct {
	channelID string
	text      string
}

type forwardCall struct {
	channelID     string
	fromChannelID string
	messageID     string
}

// mockSender records outbound calls.
type mockSender struct {
	sendErr    error
	forwardErr error
	sends      []sendCall
	forwards   []forwardCall
	mu         sync.Mutex
}

func (m *mockSender) SendMessage(_ context.Context, channelID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sends = append(m.sends, sendCall{channelID: channelID, text: text})
	return "m1", nil
}

func (m *mockSender) ForwardMessage(_ context.Context, channelID, fromChannelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forwardErr != nil {
		return m.forwardErr
	}
	m.forwards = append(m.forwards, forwardCall{channelID: channelID, fromChannelID: fromChannelID, messageID: messageID})
	return nil
}

func TestManager_SendMessage(t *testing.T) {
	sender := &mockSender{}
	m := New(sender, 100, nil)

	id, err := m.SendMessage(context.Background(), "-100", "hello")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if id != "m1" {
		t.Errorf("SendMessage() = %q, want m1", id)
	}
	if len(sender.sends) != 1 || sender.sends[0].text != "hello" {
		t.Errorf("sends = %+v", sender.sends)
	}
	if got := m.Stats(); got.Sent != 1 || got.Failed != 0 {
		t.Errorf("Stats() = %+v, want 1 sent", got)
	}
}

func TestManager_Errors(t *testing.T) {
	tests := []struct {
		name    string
		sender  *mockSender
		channel string
		wantErr error
	}{
		{"empty target", &mockSender{}, "", ErrNoTarget},
		{"transport failure", &mockSender{sendErr: errors.New("boom")}, "-100", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.sender, 100, nil)
			_, err := m.SendMessage(context.Background(), tt.channel, "x")
			if err == nil {
				t.Fatal("SendMessage() error = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("SendMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_FailureCounted(t *testing.T) {
	m := New(&mockSender{sendErr: errors.New("boom"), forwardErr: errors.New("boom")}, 100, nil)
	ctx := context.Background()
	_, _ = m.SendMessage(ctx, "-100", "x")      //nolint:errcheck // counted below
	_ = m.ForwardMessage(ctx, "-100", "A", "5") //nolint:errcheck // counted below
	if got := m.Stats().Failed; got != 2 {
		t.Errorf("Stats().Failed = %d, want 2", got)
	}
}

func TestManager_ForwardMessage(t *testing.T) {
	sender := &mockSender{}
	m := New(sender, 100, nil)

	if err := m.ForwardMessage(context.Background(), "-100", "A", "42"); err != nil {
		t.Fatalf("ForwardMessage() error = %v", err)
	}
	want := forwardCall{channelID: "-100", fromChannelID: "A", messageID: "42"}
	if len(sender.forwards) != 1 || sender.forwards[0] != want {
		t.Errorf("forwards = %+v, want [%+v]", sender.forwards, want)
	}
	if got := m.Stats().Forwarded; got != 1 {
		t.Errorf("Stats().Forwarded = %d, want 1", got)
	}
	if err := m.ForwardMessage(context.Background(), "", "A", "42"); !errors.Is(err, ErrNoTarget) {
		t.Errorf("ForwardMessage() to empty target error = %v, want ErrNoTarget", err)
	}
}

func TestManager_RespectsContext(t *testing.T) {
	m := New(&mockSender{}, 0.001, nil)
	ctx := context.Background()
	// Drain the burst.
	for range defaultBurst {
		if _, err := m.SendMessage(ctx, "-100", "x"); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := m.SendMessage(ctx, "-100", "x"); err == nil {
		t.Error("SendMessage() should fail when the limiter wait exceeds the deadline")
	}
}
