// Package checkout turns carts into pending orders with a gateway payment
// intent and captures card payments against them.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/lifecycle"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/paygateway"
	"github.com/joao-fontenele/storefront/internal/payments"
	"github.com/joao-fontenele/storefront/internal/pricing"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPlanNotFound      = errors.New("subscription plan not found")
	ErrInvalidVariant    = errors.New("invalid plan variant")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNotPending   = errors.New("order is not pending")
	ErrPreferenceExists  = errors.New("order already has a payment preference")
	ErrInvalidRequest    = errors.New("invalid checkout request")
	ErrGateway           = errors.New("payment gateway failure")
)

type Catalog interface {
	Product(ctx context.Context, id string) (*domain.Product, error)
	Plan(ctx context.Context, id string) (*domain.SubscriptionPlan, error)
}

// StockReader gives a non-authoritative on-hand count for soft checks.
type StockReader interface {
	OnHand(ctx context.Context, productID string) (int, error)
}

type Pricer interface {
	Price(ctx context.Context, items []domain.OrderItem, code string) (pricing.Quote, error)
}

type OrderStore interface {
	Create(ctx context.Context, d orders.Draft) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	SetPreferenceID(ctx context.Context, id, preferenceID string) (bool, error)
}

type PaymentLedger interface {
	Upsert(ctx context.Context, p *domain.Payment) (bool, error)
}

type Gateway interface {
	CreatePreference(ctx context.Context, req paygateway.PreferenceRequest, idempotencyKey string) (*paygateway.Preference, error)
	CreatePayment(ctx context.Context, req paygateway.CaptureRequest, idempotencyKey string) (*paygateway.Payment, error)
}

type Transitioner interface {
	ApplyGatewayStatus(ctx context.Context, orderID string, status domain.GatewayStatus) (lifecycle.Outcome, error)
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Request struct {
	CustomerID   string                 `json:"-"`
	Items        []CartLine             `json:"items"`
	Shipping     domain.Shipping        `json:"shipping"`
	DiscountCode string                 `json:"discount_code,omitempty"`
	Delivery     *domain.DeliveryWindow `json:"delivery,omitempty"`
}

type SubscriptionRequest struct {
	CustomerID   string          `json:"-"`
	PlanID       string          `json:"plan_id"`
	Variant      string          `json:"variant,omitempty"`
	Shipping     domain.Shipping `json:"shipping"`
	DiscountCode string          `json:"discount_code,omitempty"`
}

type Result struct {
	OrderID          string        `json:"order_id"`
	PreferenceID     string        `json:"preference_id,omitempty"`
	InitPoint        string        `json:"init_point,omitempty"`
	SandboxInitPoint string        `json:"sandbox_init_point,omitempty"`
	Quote            pricing.Quote `json:"quote"`
}

type Dependencies struct {
	Catalog  Catalog
	Stock    StockReader
	Pricer   Pricer
	Orders   OrderStore
	Payments PaymentLedger
	Gateway  Gateway
	Machine  Transitioner
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	// Timeout bounds each stretch of database work between gateway calls.
	Timeout time.Duration
}

type Service struct {
	catalog  Catalog
	stock    StockReader
	pricer   Pricer
	orders   OrderStore
	payments PaymentLedger
	gateway  Gateway
	machine  Transitioner
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	cfg      config.CheckoutConfig
	timeout  time.Duration
	now      func() time.Time
}

func NewService(deps Dependencies, cfg config.CheckoutConfig) *Service {
	return &Service{
		catalog:  deps.Catalog,
		stock:    deps.Stock,
		pricer:   deps.Pricer,
		orders:   deps.Orders,
		payments: deps.Payments,
		gateway:  deps.Gateway,
		machine:  deps.Machine,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
		timeout:  deps.Timeout,
		now:      time.Now,
	}
}

// BuildPreference prices the cart, persists a pending order and requests a
// payment intent for it. Validation failures persist nothing. A gateway
// failure after persistence returns the pending order id along with an
// ErrGateway error; RetryPreference recovers it.
func (s *Service) BuildPreference(ctx context.Context, req Request) (*Result, error) {
	if req.CustomerID == "" {
		return nil, fmt.Errorf("%w: missing customer", ErrInvalidRequest)
	}
	if req.Shipping.Email == "" {
		return nil, fmt.Errorf("%w: missing payer email", ErrInvalidRequest)
	}

	order, quote, err := s.draftGoods(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created", "order_id", order.ID, "customer_id", order.CustomerID, "total", order.Total)
	return s.requestPreference(ctx, order, quote)
}

func (s *Service) draftGoods(ctx context.Context, req Request) (*domain.Order, pricing.Quote, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	items, err := s.resolveCart(ctx, req.Items)
	if err != nil {
		s.metrics.Preference(ctx, "rejected")
		return nil, pricing.Quote{}, err
	}

	quote, err := s.pricer.Price(ctx, items, req.DiscountCode)
	if err != nil {
		s.metrics.Preference(ctx, "rejected")
		return nil, pricing.Quote{}, err
	}

	order := s.newOrder(domain.GoodsOrderPrefix, domain.OrderKindGoods, req.CustomerID, items, quote, req.Shipping)
	order.Delivery = req.Delivery

	if err := s.orders.Create(ctx, orders.Draft{Order: order, Payment: payments.NewPending(order)}); err != nil {
		s.metrics.Preference(ctx, "error")
		return nil, pricing.Quote{}, fmt.Errorf("persist order: %w", err)
	}
	return order, quote, nil
}

// BuildSubscription is BuildPreference for a single subscription plan. The
// order id carries the subscription prefix and a durable intent records the
// chosen plan until the payment webhook activates it.
func (s *Service) BuildSubscription(ctx context.Context, req SubscriptionRequest) (*Result, error) {
	if req.CustomerID == "" {
		return nil, fmt.Errorf("%w: missing customer", ErrInvalidRequest)
	}
	if req.Shipping.Email == "" {
		return nil, fmt.Errorf("%w: missing payer email", ErrInvalidRequest)
	}

	order, quote, err := s.draftSubscription(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription order created", "order_id", order.ID, "plan_id", req.PlanID, "customer_id", req.CustomerID)
	return s.requestPreference(ctx, order, quote)
}

func (s *Service) draftSubscription(ctx context.Context, req SubscriptionRequest) (*domain.Order, pricing.Quote, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	plan, err := s.catalog.Plan(ctx, req.PlanID)
	if err != nil {
		return nil, pricing.Quote{}, fmt.Errorf("lookup plan %s: %w", req.PlanID, err)
	}
	if plan == nil {
		s.metrics.Preference(ctx, "rejected")
		return nil, pricing.Quote{}, fmt.Errorf("%w: %s", ErrPlanNotFound, req.PlanID)
	}
	if !plan.HasVariant(req.Variant) {
		s.metrics.Preference(ctx, "rejected")
		return nil, pricing.Quote{}, fmt.Errorf("%w: %q for plan %s", ErrInvalidVariant, req.Variant, plan.ID)
	}

	items := []domain.OrderItem{{
		ProductID: plan.ID,
		Title:     plan.Title,
		UnitPrice: plan.Price,
		Quantity:  1,
		Type:      domain.ItemTypeSubscription,
	}}

	quote, err := s.pricer.Price(ctx, items, req.DiscountCode)
	if err != nil {
		s.metrics.Preference(ctx, "rejected")
		return nil, pricing.Quote{}, err
	}

	order := s.newOrder(domain.SubscriptionOrderPrefix, domain.OrderKindSubscription, req.CustomerID, items, quote, req.Shipping)
	intent := &domain.PendingSubscriptionIntent{
		OrderID:    order.ID,
		CustomerID: req.CustomerID,
		PlanID:     plan.ID,
		Variant:    req.Variant,
		Shipping:   req.Shipping,
		CreatedAt:  order.CreatedAt,
	}

	draft := orders.Draft{Order: order, Payment: payments.NewPending(order), Intent: intent}
	if err := s.orders.Create(ctx, draft); err != nil {
		s.metrics.Preference(ctx, "error")
		return nil, pricing.Quote{}, fmt.Errorf("persist subscription order: %w", err)
	}
	return order, quote, nil
}

// RetryPreference re-requests the payment intent of a pending order whose
// first request failed.
func (s *Service) RetryPreference(ctx context.Context, customerID, orderID string) (*Result, error) {
	order, err := s.ownedOrder(ctx, customerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, orderID, order.Status)
	}
	if order.PreferenceID != "" {
		return nil, fmt.Errorf("%w: %s has %s", ErrPreferenceExists, orderID, order.PreferenceID)
	}

	quote := pricing.Quote{
		Subtotal:       order.Subtotal,
		DiscountCode:   order.DiscountCode,
		DiscountAmount: order.DiscountAmount,
		Total:          order.Total,
	}
	return s.requestPreference(ctx, order, quote)
}

func (s *Service) resolveCart(ctx context.Context, lines []CartLine) ([]domain.OrderItem, error) {
	if len(lines) == 0 {
		return nil, pricing.ErrEmptyCart
	}

	requested := make(map[string]int)
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for %s", pricing.ErrInvalidLine, line.Quantity, line.ProductID)
		}

		product, err := s.catalog.Product(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("lookup product %s: %w", line.ProductID, err)
		}
		if product == nil {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}

		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Title:     product.Title,
			UnitPrice: product.Price,
			Quantity:  line.Quantity,
			Type:      product.Type,
		})
		if product.Type == domain.ItemTypePhysical {
			requested[product.ID] += line.Quantity
		}
	}

	for productID, qty := range requested {
		onHand, err := s.stock.OnHand(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("read stock for %s: %w", productID, err)
		}
		if onHand < qty {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, productID, onHand, qty)
		}
	}

	return items, nil
}

func (s *Service) newOrder(prefix string, kind domain.OrderKind, customerID string, items []domain.OrderItem, quote pricing.Quote, shipping domain.Shipping) *domain.Order {
	now := s.now().UTC()
	return &domain.Order{
		ID:             prefix + uuid.New().String(),
		Kind:           kind,
		CustomerID:     customerID,
		Items:          items,
		Subtotal:       quote.Subtotal,
		DiscountCode:   quote.DiscountCode,
		DiscountAmount: quote.DiscountAmount,
		Total:          quote.Total,
		Currency:       s.cfg.Currency,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		Shipping:       shipping,
		Tracking: []domain.TrackingEvent{{
			Status:      domain.OrderStatusPending,
			Description: "Order placed, awaiting payment",
			OccurredAt:  now,
		}},
		CreatedAt: now,
	}
}

func (s *Service) requestPreference(ctx context.Context, order *domain.Order, quote pricing.Quote) (*Result, error) {
	result := &Result{OrderID: order.ID, Quote: quote}

	pref, err := s.gateway.CreatePreference(ctx, s.preferenceRequest(order), "preference-"+order.ID)
	if err != nil {
		s.metrics.Preference(ctx, "gateway_error")
		s.logger.Error("failed to create payment preference", "error", err, "order_id", order.ID)
		return result, fmt.Errorf("%w: order %s left pending: %w", ErrGateway, order.ID, err)
	}

	dbCtx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.orders.SetPreferenceID(dbCtx, order.ID, pref.ID); err != nil {
		s.metrics.Preference(ctx, "error")
		return result, fmt.Errorf("record preference for %s: %w", order.ID, err)
	}

	result.PreferenceID = pref.ID
	result.InitPoint = pref.InitPoint
	result.SandboxInitPoint = pref.SandboxInitPoint

	s.metrics.Preference(ctx, "created")
	s.logger.Info("payment preference created", "order_id", order.ID, "preference_id", pref.ID)
	return result, nil
}

// preferenceRequest sends one gateway line per order line. A discounted order
// is sent as a single line for its total, since the gateway charges the sum
// of the lines and has no discount field.
func (s *Service) preferenceRequest(order *domain.Order) paygateway.PreferenceRequest {
	var items []paygateway.Item
	if order.DiscountAmount > 0 {
		items = []paygateway.Item{{
			ID:         order.ID,
			Title:      fmt.Sprintf("Order %s (%s)", order.ID, order.DiscountCode),
			Quantity:   1,
			UnitPrice:  paygateway.Amount(order.Total),
			CurrencyID: order.Currency,
		}}
	} else {
		for _, item := range order.Items {
			items = append(items, paygateway.Item{
				ID:         item.ProductID,
				Title:      item.Title,
				Quantity:   item.Quantity,
				UnitPrice:  paygateway.Amount(item.UnitPrice),
				CurrencyID: order.Currency,
			})
		}
	}

	from := s.now().UTC()
	until := from.Add(s.cfg.PreferenceExpiresIn)

	return paygateway.PreferenceRequest{
		Items: items,
		Payer: payerOf(order.Shipping),
		BackURLs: paygateway.BackURLs{
			Success: s.cfg.SuccessURL,
			Failure: s.cfg.FailureURL,
			Pending: s.cfg.PendingURL,
		},
		NotificationURL:    s.cfg.NotificationURL,
		ExternalReference:  order.ID,
		Expires:            true,
		ExpirationDateFrom: &from,
		ExpirationDateTo:   &until,
	}
}

func payerOf(shipping domain.Shipping) paygateway.Payer {
	payer := paygateway.Payer{Name: shipping.Name, Email: shipping.Email}
	if shipping.IdentityNumber != "" {
		payer.Identification = &paygateway.Identification{
			Type:   shipping.IdentityType,
			Number: shipping.IdentityNumber,
		}
	}
	return payer
}

func (s *Service) ownedOrder(ctx context.Context, customerID, orderID string) (*domain.Order, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil || order.CustomerID != customerID || order.RetiredAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}
