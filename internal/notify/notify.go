package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notifier delivers a message to a buyer. Mail, SMS and push are all
// behind this port.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Send(_ context.Context, to, subject, body string) error {
	n.Log.Info("notification",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}

type Dedup interface {
	Claim(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Recorder interface {
	ObserveNotification(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveNotification(string) {}

// Handler turns order events into buyer notifications. A notification is a
// side effect: a failed send is logged and the event is still committed.
type Handler struct {
	notifier Notifier
	dedup    Dedup
	rec      Recorder
	log      *zap.Logger
}

func NewHandler(n Notifier, d Dedup, rec Recorder, log *zap.Logger) *Handler {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{notifier: n, dedup: d, rec: rec, log: log}
}

type message struct {
	to, subject, body string
}

// Handle is a kafka.Handler. Only undecodable events return an error.
func (h *Handler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.UnmarshalEnvelope(m.Value)
	if err != nil {
		h.rec.ObserveNotification("invalid")
		return err
	}
	log := h.log.With(
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("order_id", env.CorrelationID),
	)

	msg, ok, err := compose(env)
	if err != nil {
		h.rec.ObserveNotification("invalid")
		return err
	}
	if !ok {
		h.rec.ObserveNotification("ignored")
		return nil
	}
	if msg.to == "" {
		log.Debug("no buyer email on event, nothing to send")
		h.rec.ObserveNotification("ignored")
		return nil
	}

	if h.dedup != nil {
		first, err := h.dedup.Claim(ctx, env.EventID)
		switch {
		case err != nil:
			// at-least-once: a duplicate mail beats a lost one
			log.Warn("dedup unavailable, sending anyway", zap.Error(err))
		case !first:
			h.rec.ObserveNotification("duplicate")
			return nil
		}
	}

	if err := h.notifier.Send(ctx, msg.to, msg.subject, msg.body); err != nil {
		log.Error("notification failed", zap.Error(err))
		h.rec.ObserveNotification("failed")
		if h.dedup != nil {
			if ferr := h.dedup.Forget(ctx, env.EventID); ferr != nil {
				log.Warn("dedup forget failed", zap.Error(ferr))
			}
		}
		return nil
	}
	h.rec.ObserveNotification("sent")
	return nil
}

var errUnsupportedVersion = errors.New("unsupported event version")

func compose(env orders.Envelope) (message, bool, error) {
	switch env.EventType {
	case orders.EventOrderCreated, orders.EventOrderStatusChanged:
		if env.EventVersion != 1 {
			return message{}, false, fmt.Errorf("%w: %s v%d", errUnsupportedVersion, env.EventType, env.EventVersion)
		}
	default:
		return message{}, false, nil
	}

	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafka.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return message{}, false, err
		}
		return message{
			to:      p.BuyerEmail,
			subject: "Order placed",
			body: fmt.Sprintf("Hello %s, your order %s (%d items, total %s) has been placed and is being processed.",
				greet(p.BuyerName), p.OrderID, len(p.Items), p.TotalPrice),
		}, true, nil

	case orders.EventOrderStatusChanged:
		p, err := kafka.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return message{}, false, err
		}
		return message{
			to:      p.BuyerEmail,
			subject: "Order " + string(p.To),
			body:    fmt.Sprintf("Hello %s, your order %s is now: %s.", greet(p.BuyerName), p.OrderID, p.To),
		}, true, nil
	}
	return message{}, false, nil
}

func greet(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
