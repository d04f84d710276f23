package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/seal"
)

type stubSender struct {
	mu    sync.Mutex
	sent  []string
	fails int
}

func (s *stubSender) SendSMS(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("transient")
	}
	s.sent = append(s.sent, to)
	return nil
}

func (s *stubSender) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

func sealedContact(t *testing.T, cipher seal.Cipher, secret, phone string) *models.EmergencyContact {
	t.Helper()
	enc, err := cipher.Encrypt(phone, secret, contactContext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return &models.EmergencyContact{ID: "c1", PhoneEnc: enc, ConsentToContact: true}
}

func TestDispatcherDelivers(t *testing.T) {
	cipher := &seal.SecretBox{}
	sender := &stubSender{}
	d := NewDispatcher(sender, cipher, "escrow-secret")

	contact := sealedContact(t, cipher, "escrow-secret", "+15550100")
	d.NotifyEmergencyContact(contact, &models.CrisisAlert{ID: "alert-1"})
	d.Close()

	got := sender.delivered()
	if len(got) != 1 || got[0] != "+15550100" {
		t.Fatalf("expected one delivery to +15550100, got %v", got)
	}
}

func TestDispatcherRetries(t *testing.T) {
	cipher := &seal.SecretBox{}
	sender := &stubSender{fails: 2}
	d := NewDispatcher(sender, cipher, "escrow-secret")
	d.backoff = time.Millisecond

	contact := sealedContact(t, cipher, "escrow-secret", "+15550101")
	d.NotifyEmergencyContact(contact, &models.CrisisAlert{ID: "alert-2"})
	d.Close()

	if got := sender.delivered(); len(got) != 1 {
		t.Fatalf("expected delivery after retries, got %v", got)
	}
}

func TestDispatcherUnreachableContact(t *testing.T) {
	cipher := &seal.SecretBox{}
	sender := &stubSender{}
	d := NewDispatcher(sender, cipher, "escrow-secret")

	// Sealed under a personal secret the platform cannot recover.
	contact := sealedContact(t, cipher, "personal-secret", "+15550102")
	d.NotifyEmergencyContact(contact, &models.CrisisAlert{ID: "alert-3"})
	d.Close()

	if got := sender.delivered(); len(got) != 0 {
		t.Fatalf("undeliverable contact was messaged: %v", got)
	}
}

func TestDispatcherNeverBlocks(t *testing.T) {
	cipher := &seal.SecretBox{}
	sender := &stubSender{}
	d := NewDispatcher(sender, cipher, "")
	defer d.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			d.NotifyEmergencyContact(&models.EmergencyContact{ID: "c"}, &models.CrisisAlert{ID: "a"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyEmergencyContact blocked")
	}
}
