// Package projection maintains the cart report read model from the tagged
// event stream.
package projection

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// Consumer is the offset name of the report projection.
const Consumer = "cart-report"

// Projector applies cart events to the report store.
type Projector struct {
	reports storage.ReportStore
	tracer  trace.Tracer
}

// New creates a projector writing to reports.
func New(reports storage.ReportStore) (*Projector, error) {
	if reports == nil {
		return nil, errors.New("report store is required")
	}
	return &Projector{
		reports: reports,
		tracer:  otel.Tracer("github.com/louisbranch/cartstream/internal/services/cart/projection"),
	}, nil
}

// Prepare creates the report schema. It must succeed before any event is
// handled.
func (p *Projector) Prepare(ctx context.Context) error {
	if err := p.reports.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare report store: %w", err)
	}
	return nil
}

// HandleBatch applies events in order, stopping at the first failure.
func (p *Projector) HandleBatch(ctx context.Context, tag int, events []event.Event) error {
	ctx, span := p.tracer.Start(ctx, "projection.HandleBatch", trace.WithAttributes(
		attribute.String("cart.tag", event.TagName(tag)),
		attribute.Int("cart.events", len(events)),
	))
	defer span.End()

	for _, stored := range events {
		if err := p.Apply(ctx, stored); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// Apply projects one stored event. Events other than ItemAdded and
// CheckedOut are acknowledged without writes.
func (p *Projector) Apply(ctx context.Context, stored event.Event) error {
	evt, err := cart.Decode(stored)
	if err != nil {
		return fmt.Errorf("decode event %d: %w", stored.Offset, err)
	}
	switch e := evt.(type) {
	case cart.ItemAdded:
		if _, err := p.reports.InsertReportIfAbsent(ctx, storage.CartReport{
			ID:           stored.CartID,
			CreationDate: e.Time,
		}); err != nil {
			return fmt.Errorf("insert report %s: %w", stored.CartID, err)
		}
	case cart.CheckedOut:
		err := p.reports.SetCheckoutDate(ctx, stored.CartID, e.Time)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.WithMetadata(apperrors.CodeProjectionInconsistent,
				fmt.Sprintf("Didn't find cart for checkout. CartID: %s", stored.CartID),
				map[string]string{"cartId": stored.CartID, "offset": fmt.Sprint(stored.Offset)})
		}
		if err != nil {
			return fmt.Errorf("set checkout date %s: %w", stored.CartID, err)
		}
	}
	return nil
}
