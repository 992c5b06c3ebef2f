package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// Asker dispatches commands to live carts.
type Asker interface {
	Ask(ctx context.Context, cartID string, cmd cart.Command) (cart.Confirmation, error)
}

// Service is the cart use-case boundary used by transports. Rejections are
// returned as *apperrors.Error values carrying the rejection code and reason.
type Service struct {
	router  Asker
	reports storage.ReportStore
	tracer  trace.Tracer
}

// NewService creates a cart service.
func NewService(router Asker, reports storage.ReportStore) (*Service, error) {
	if router == nil {
		return nil, errors.New("cart router is required")
	}
	if reports == nil {
		return nil, errors.New("report store is required")
	}
	return &Service{
		router:  router,
		reports: reports,
		tracer:  otel.Tracer("github.com/louisbranch/cartstream/internal/services/cart/app"),
	}, nil
}

// Get returns the cart summary. Unknown carts are empty.
func (s *Service) Get(ctx context.Context, cartID string) (cart.Summary, error) {
	return s.ask(ctx, "cart.Get", cartID, cart.Get{})
}

// AddItem sets an item quantity.
func (s *Service) AddItem(ctx context.Context, cartID, itemID string, quantity int) (cart.Summary, error) {
	return s.ask(ctx, "cart.AddItem", cartID, cart.AddItem{ItemID: itemID, Quantity: quantity})
}

// RemoveItem drops an item. Removing an absent item succeeds unchanged.
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID string) (cart.Summary, error) {
	return s.ask(ctx, "cart.RemoveItem", cartID, cart.RemoveItem{ItemID: itemID})
}

// AdjustItemQuantity changes the quantity of an item in the cart.
func (s *Service) AdjustItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (cart.Summary, error) {
	return s.ask(ctx, "cart.AdjustItemQuantity", cartID, cart.AdjustItemQuantity{ItemID: itemID, Quantity: quantity})
}

// Checkout freezes the cart.
func (s *Service) Checkout(ctx context.Context, cartID string) (cart.Summary, error) {
	return s.ask(ctx, "cart.Checkout", cartID, cart.Checkout{})
}

// GetReport reads the projected report row of a cart.
func (s *Service) GetReport(ctx context.Context, cartID string) (storage.CartReport, error) {
	if strings.TrimSpace(cartID) == "" {
		return storage.CartReport{}, apperrors.New(apperrors.CodeCartIDRequired, "cart id is required")
	}
	report, err := s.reports.GetReport(ctx, cartID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.CartReport{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("Couldn't find a shopping cart report for '%s'", cartID),
			map[string]string{"cartId": cartID})
	}
	if err != nil {
		return storage.CartReport{}, fmt.Errorf("get report %s: %w", cartID, err)
	}
	return report, nil
}

func (s *Service) ask(ctx context.Context, name, cartID string, cmd cart.Command) (cart.Summary, error) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("cart.id", cartID)))
	defer span.End()

	conf, err := s.router.Ask(ctx, cartID, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return cart.Summary{}, err
	}
	switch c := conf.(type) {
	case cart.Accepted:
		return c.Summary, nil
	case cart.Rejected:
		span.SetAttributes(attribute.String("cart.rejection", string(c.Code)))
		return cart.Summary{}, apperrors.WithMetadata(c.Code, c.Reason, map[string]string{"cartId": cartID})
	default:
		return cart.Summary{}, fmt.Errorf("unexpected confirmation %T", conf)
	}
}
