package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/seal"
)

// contactContext must match the context used when the contact was
// sealed, and the escrow secret must be the secret it was sealed under.
// Deployments that want reachable emergency contacts register them with
// the platform escrow secret; contacts sealed under a personal secret
// stay unreachable and fall back to a log-only event.
const contactContext = "emergency-contact"

// notificationBody deliberately carries no names, no clinical content
// and no risk detail.
const notificationBody = "This is an automated safety notification. " +
	"Someone who listed you as an emergency contact may need support right now. " +
	"Please reach out to them. If you believe they are in immediate danger, call your local emergency number."

// Dispatcher queues emergency-contact notifications and delivers them
// in the background with retries. NotifyEmergencyContact never blocks.
type Dispatcher struct {
	sender  SMSSender
	cipher  seal.Cipher
	escrow  string
	queue   chan job
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	retries int
	backoff time.Duration
}

type job struct {
	contact *models.EmergencyContact
	alertID string
}

// NewDispatcher starts the delivery worker. Close the dispatcher to
// drain and stop it.
func NewDispatcher(sender SMSSender, cipher seal.Cipher, escrowSecret string) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:  sender,
		cipher:  cipher,
		escrow:  escrowSecret,
		queue:   make(chan job, 64),
		cancel:  cancel,
		retries: 3,
		backoff: 2 * time.Second,
	}
	d.wg.Add(1)
	go d.run(ctx)
	return d
}

// NotifyEmergencyContact enqueues delivery and returns immediately. A
// full queue drops the notification with a log line rather than block
// the crisis path.
func (d *Dispatcher) NotifyEmergencyContact(contact *models.EmergencyContact, alert *models.CrisisAlert) {
	if contact == nil || alert == nil {
		return
	}
	select {
	case d.queue <- job{contact: contact, alertID: alert.ID}:
	default:
		slog.Warn("notification queue full, dropping", "alert_id", alert.ID)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case j := <-d.queue:
					d.deliver(context.Background(), j)
				default:
					return
				}
			}
		case j := <-d.queue:
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	phone := ""
	if j.contact.PhoneEnc != "" && d.escrow != "" {
		p, err := d.cipher.Decrypt(j.contact.PhoneEnc, d.escrow, contactContext)
		if err == nil {
			phone = p
		}
	}
	if phone == "" {
		slog.Info("contact unreachable, logged only", "alert_id", j.alertID, "contact_id", j.contact.ID)
		return
	}
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}
		if err := d.sender.SendSMS(ctx, phone, notificationBody); err == nil {
			slog.Info("emergency notification delivered", "alert_id", j.alertID, "contact_id", j.contact.ID)
			return
		}
	}
	slog.Error("emergency notification failed after retries", "alert_id", j.alertID, "contact_id", j.contact.ID)
}

// Close drains pending deliveries and stops the worker.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
