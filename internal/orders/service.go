package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/otp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/ariefcatur/go-marketplace-orders/internal/orders"

type Deps struct {
	Store     Store
	Ledger    Ledger
	Payouts   Payouts
	Codes     CodeGenerator
	Attempts  otp.AttemptLimiter
	Locker    CheckoutLocker // optional
	Publisher Publisher      // optional
	Recorder  Recorder       // optional
	Logger    *zap.Logger    // optional

	// ServiceName is stamped on published events.
	ServiceName string
	// RequireDeliveryOTP blocks the Delivered transition until the
	// courier has verified the buyer's code.
	RequireDeliveryOTP bool
	// MaxUpdateAttempts bounds reload-and-retry on version conflicts.
	MaxUpdateAttempts int

	Now   func() time.Time
	NewID func() string
}

// Service owns the order lifecycle: checkout materialization, status
// transitions, OTP verification and the read side.
type Service struct {
	store     Store
	ledger    Ledger
	payouts   Payouts
	codes     CodeGenerator
	attempts  otp.AttemptLimiter
	locker    CheckoutLocker
	publisher Publisher
	rec       Recorder
	log       *zap.Logger
	tracer    trace.Tracer

	serviceName        string
	requireDeliveryOTP bool
	maxUpdateAttempts  int
	now                func() time.Time
	newID              func() string
}

func NewService(d Deps) (*Service, error) {
	if d.Store == nil || d.Ledger == nil || d.Payouts == nil || d.Codes == nil || d.Attempts == nil {
		return nil, errors.New("orders: store, ledger, payouts, codes and attempts are required")
	}
	s := &Service{
		store:              d.Store,
		ledger:             d.Ledger,
		payouts:            d.Payouts,
		codes:              d.Codes,
		attempts:           d.Attempts,
		locker:             d.Locker,
		publisher:          d.Publisher,
		rec:                d.Recorder,
		log:                d.Logger,
		tracer:             otel.Tracer(tracerName),
		serviceName:        d.ServiceName,
		requireDeliveryOTP: d.RequireDeliveryOTP,
		maxUpdateAttempts:  d.MaxUpdateAttempts,
		now:                d.Now,
		newID:              d.NewID,
	}
	if s.publisher == nil {
		s.publisher = NopPublisher{}
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.serviceName == "" {
		s.serviceName = "order-api"
	}
	if s.maxUpdateAttempts <= 0 {
		s.maxUpdateAttempts = 3
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// begin opens a span for a use case; the returned func records span
// status, metrics and the use_case_done log line.
func (s *Service) begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "orders."+name, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		elapsed := time.Since(start)
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		s.rec.ObserveUseCase(name, outcome, elapsed)

		fields := []zap.Field{
			zap.String("use_case", name),
			zap.String("outcome", outcome),
			zap.Duration("latency", elapsed),
		}
		log := logging.FromContext(ctx, s.log)
		switch {
		case err == nil:
			log.Info("use_case_done", fields...)
		case serverSide(KindOf(err)):
			log.Error("use_case_done", append(fields, zap.Error(err))...)
		default:
			log.Info("use_case_done", append(fields, zap.String("reason", err.Error()))...)
		}
	}
}

func serverSide(k Kind) bool {
	return k == KindInternal || k == KindPartialFailure || k == KindUpstream
}

// publish is best effort: the state change is already durable.
func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	env, err := NewEnvelope(eventType, s.serviceName, traceID, orderID, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, topic, env)
	}
	if err != nil {
		logging.FromContext(ctx, s.log).Warn("publish event failed",
			zap.String("topic", topic),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

// storeErr maps store sentinels onto the domain taxonomy.
func storeErr(err error, orderID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return NotFound("order_not_found", "Order not found with this id: %s", orderID)
	case errors.Is(err, context.DeadlineExceeded):
		return Upstream(err, "storage_timeout", "storage did not answer in time")
	default:
		return Internal(err, "order storage failure")
	}
}
