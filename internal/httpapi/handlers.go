package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/safar/go-storefront/internal/cache"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/logging"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/notify"
	"github.com/safar/go-storefront/internal/store"
)

type Server struct {
	db       *sql.DB
	cache    *cache.Cache
	notifier notify.Notifier
	params   store.CheckoutParams

	reservationTTL time.Duration
}

func NewServer(db *sql.DB, c *cache.Cache, n notify.Notifier, cfg *config.Config) (*Server, error) {
	taxRate, err := decimal.NewFromString(cfg.Checkout.TaxRate)
	if err != nil {
		return nil, err
	}
	shippingFlat, err := decimal.NewFromString(cfg.Checkout.ShippingFlat)
	if err != nil {
		return nil, err
	}
	return &Server{
		db:       db,
		cache:    c,
		notifier: n,
		params: store.CheckoutParams{
			TaxRate:      taxRate,
			ShippingFlat: shippingFlat,
			MaxRetries:   cfg.Checkout.MaxRetries,
			Deadline:     cfg.Checkout.CreateTimeout,
		},
		reservationTTL: cfg.Checkout.ReservationTTL,
	}, nil
}

// writeError maps domain errors onto HTTP responses. Stock shortfalls carry
// the itemized failure list so the client can adjust the cart in one pass.
func writeError(c *gin.Context, err error) {
	var (
		validationErr *store.ValidationError
		stockErr      *store.StockUnavailable
		transitionErr *store.InvalidTransition
		refundErr     *store.RefundError
		reconErr      *store.ReconciliationError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "field": validationErr.Field, "message": validationErr.Message})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{"error": "stock_unavailable", "items": stockErr.Items})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "from": transitionErr.From, "to": transitionErr.To})
	case errors.As(err, &refundErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "refund_rejected", "message": refundErr.Message})
	case errors.As(err, &reconErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "reconciliation_error", "message": reconErr.Message})
	case errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrVariantNotFound),
		errors.Is(err, store.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, database.ErrRetryExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable", "message": "please retry"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

type createOrderReq struct {
	CustomerRef     string `json:"customer_ref" binding:"required"`
	PaymentMethod   string `json:"payment_method" binding:"required"`
	ShippingName    string `json:"shipping_name" binding:"required"`
	ShippingAddress string `json:"shipping_address" binding:"required"`
	Items           []struct {
		ProductID  int64  `json:"product_id" binding:"required"`
		VariantKey string `json:"variant_key" binding:"required"`
		Quantity   int    `json:"quantity" binding:"required"`
	} `json:"items" binding:"required"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	idemKey := c.GetHeader("X-Idempotency-Key")
	ctx := c.Request.Context()

	// fast path: a replayed key returns the order already created for it
	if orderID, ok := s.cache.RecallCheckout(ctx, req.CustomerRef, idemKey); ok {
		order, err := store.GetOrder(ctx, s.db, orderID)
		if err == nil {
			c.JSON(http.StatusOK, order)
			return
		}
	}

	createReq := store.CreateOrderRequest{
		CustomerRef:     req.CustomerRef,
		IdempotencyKey:  idemKey,
		PaymentMethod:   req.PaymentMethod,
		ShippingName:    req.ShippingName,
		ShippingAddress: req.ShippingAddress,
	}
	for _, item := range req.Items {
		createReq.Items = append(createReq.Items, store.OrderItemRequest{
			ProductID:  item.ProductID,
			VariantKey: item.VariantKey,
			Quantity:   item.Quantity,
		})
	}

	result, err := store.CreateOrder(ctx, s.db, s.params, createReq)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateOrder) {
			order, getErr := store.GetOrderByIdempotencyKey(ctx, s.db, req.CustomerRef, idemKey)
			if getErr == nil {
				s.cache.RememberCheckout(ctx, req.CustomerRef, idemKey, order.ID)
				c.JSON(http.StatusOK, order)
				return
			}
			err = getErr
		}
		checkoutOutcomes.WithLabelValues(checkoutOutcome(err)).Inc()
		writeError(c, err)
		return
	}
	checkoutOutcomes.WithLabelValues("created").Inc()

	order := result.Order
	s.cache.RememberCheckout(ctx, req.CustomerRef, idemKey, order.ID)

	// alerts only after the transaction committed
	for _, alert := range result.LowStock {
		s.notifier.EmitLowStock(ctx, notify.LowStockAlert{
			ProductID:  alert.ProductID,
			SKU:        alert.SKU,
			VariantKey: alert.VariantKey,
			Remaining:  alert.Remaining,
		})
	}
	s.notifier.EmitOrderEvent(ctx, notify.OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerRef: order.CustomerRef,
		Status:      string(order.Status),
	})

	c.JSON(http.StatusCreated, order)
}

func checkoutOutcome(err error) string {
	var stockErr *store.StockUnavailable
	switch {
	case errors.As(err, &stockErr):
		return "stock_unavailable"
	case errors.Is(err, database.ErrRetryExhausted):
		return "retry_exhausted"
	default:
		return "error"
	}
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid order id"})
		return
	}

	order, err := store.GetOrder(c.Request.Context(), s.db, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetOrderStatus is the hot polling endpoint; it serves from Redis when the
// entry is warm.
func (s *Server) GetOrderStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid order id"})
		return
	}
	ctx := c.Request.Context()

	if entry, ok := s.cache.GetOrderStatus(ctx, id); ok {
		c.JSON(http.StatusOK, gin.H{"order_id": id, "status": entry.Status, "payment_status": entry.PaymentStatus, "cached": true})
		return
	}

	order, err := store.GetOrder(ctx, s.db, id)
	if err != nil {
		writeError(c, err)
		return
	}
	s.cache.SetOrderStatus(ctx, id, cache.OrderStatusEntry{
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
	})
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": order.Status, "payment_status": order.PaymentStatus})
}

func (s *Server) ListOrders(c *gin.Context) {
	customerRef := c.Query("customer_ref")
	if customerRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "customer_ref is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	page, err := store.ListOrdersCursor(c.Request.Context(), s.db, customerRef, c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type cancelOrderReq struct {
	Requester string `json:"requester" binding:"required"`
	Reason    string `json:"reason"`
}

func (s *Server) CancelOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid order id"})
		return
	}
	var req cancelOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if err := store.CancelOrder(ctx, s.db, id, req.Requester, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	s.cache.InvalidateOrderStatus(ctx, id)
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": models.StatusCancelled})
}

type refundOrderReq struct {
	Amount string `json:"amount" binding:"required"`
	Items  []struct {
		OrderItemID int64 `json:"order_item_id" binding:"required"`
		Quantity    int   `json:"quantity" binding:"required"`
	} `json:"items"`
}

func (s *Server) RefundOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid order id"})
		return
	}
	var req refundOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid amount"})
		return
	}

	var items []store.RefundItemRequest
	for _, it := range req.Items {
		items = append(items, store.RefundItemRequest{OrderItemID: it.OrderItemID, Quantity: it.Quantity})
	}
	ctx := c.Request.Context()

	if err := store.RefundOrder(ctx, s.db, id, amount, items); err != nil {
		writeError(c, err)
		return
	}
	s.cache.InvalidateOrderStatus(ctx, id)

	status := models.StatusRefunded
	if len(items) > 0 {
		status = models.StatusPartiallyRefunded
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": status})
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (s *Server) UpdateOrderStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid order id"})
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	next := models.OrderStatus(req.Status)
	if !models.IsValidStatus(next) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "unknown status"})
		return
	}
	ctx := c.Request.Context()

	if err := store.UpdateOrderStatus(ctx, s.db, id, next, req.Note); err != nil {
		writeError(c, err)
		return
	}
	s.cache.InvalidateOrderStatus(ctx, id)
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": next})
}

type reserveReq struct {
	ProductID  int64  `json:"product_id" binding:"required"`
	VariantKey string `json:"variant_key" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required"`
	SessionID  string `json:"session_id" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (s *Server) CreateReservation(c *gin.Context) {
	var req reserveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	ttl := s.reservationTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	reservation, err := store.Reserve(c.Request.Context(), s.db, req.ProductID, req.VariantKey, req.Quantity, req.SessionID, ttl)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

func (s *Server) ReleaseReservation(c *gin.Context) {
	if err := store.Release(c.Request.Context(), s.db, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (s *Server) GetAvailability(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid product id"})
		return
	}
	variantKey := c.Query("variant_key")
	if variantKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "variant_key is required"})
		return
	}

	available, err := store.VariantAvailability(c.Request.Context(), s.db, id, variantKey)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "variant_key": variantKey, "available": available})
}

type createProductReq struct {
	SKU               string `json:"sku" binding:"required"`
	Name              string `json:"name" binding:"required"`
	Description       string `json:"description"`
	Price             string `json:"price" binding:"required"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	Variants          []struct {
		VariantKey string `json:"variant_key" binding:"required"`
		Stock      int    `json:"stock"`
	} `json:"variants" binding:"required"`
}

func (s *Server) CreateProduct(c *gin.Context) {
	var req createProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid price"})
		return
	}

	var variants []store.VariantInput
	for _, v := range req.Variants {
		if v.Stock < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "stock must not be negative"})
			return
		}
		variants = append(variants, store.VariantInput{VariantKey: v.VariantKey, Stock: v.Stock})
	}

	product, err := store.CreateProduct(c.Request.Context(), s.db, req.SKU, req.Name, req.Description, price, req.LowStockThreshold, variants)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_sku"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

type adjustStockReq struct {
	VariantKey string `json:"variant_key" binding:"required"`
	Delta      int    `json:"delta" binding:"required"`
}

func (s *Server) AdjustStock(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid product id"})
		return
	}
	var req adjustStockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	newStock, err := store.AdjustVariantStock(c.Request.Context(), s.db, id, req.VariantKey, req.Delta)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "variant_key": req.VariantKey, "stock": newStock})
}

func (s *Server) GetProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid product id"})
		return
	}
	product, err := store.GetProduct(c.Request.Context(), s.db, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) ListProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	result, err := store.ListProducts(c.Request.Context(), s.db, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type webhookReq struct {
	EventID string          `json:"eventId" binding:"required"`
	Type    string          `json:"type" binding:"required"`
	OrderID string          `json:"orderId" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// PaymentWebhook applies one gateway event. The signature middleware has
// already verified the body. The response is a narrow ack/reject so the
// gateway's retry policy can engage.
func (s *Server) PaymentWebhook(c *gin.Context) {
	var req webhookReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	orderID, err := strconv.ParseInt(req.OrderID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid orderId"})
		return
	}
	ctx := c.Request.Context()

	result, err := store.ApplyPaymentEvent(ctx, s.db, store.PaymentEventRequest{
		EventID: req.EventID,
		Type:    req.Type,
		OrderID: orderID,
		Payload: req.Payload,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if !result.Replay {
		s.cache.InvalidateOrderStatus(ctx, orderID)
		s.notifier.EmitOrderEvent(ctx, notify.OrderEvent{
			OrderID: orderID,
			Status:  string(result.OrderStatus),
		})
		if result.PaymentStatus == models.PaymentStatusFailed {
			s.notifier.EmitAdminAlert(ctx, notify.AdminAlert{
				Kind:    "payment_failed",
				Message: "payment failed for order",
				OrderID: orderID,
			})
		}
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) Healthz(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		logging.FromCtx(c.Request.Context()).Error("health check", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
