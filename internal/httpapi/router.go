package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/logging"
)

func NewRouter(s *Server, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), Metrics(), Logging(logging.New("http")))

	r.GET("/healthz", s.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authz := NewAuthz(cfg.Security.AdminJWTSecret, cfg.Security.JWTIssuer)

	v1 := r.Group("/v1")
	{
		v1.POST("/orders", s.CreateOrder)
		v1.GET("/orders", s.ListOrders)
		v1.GET("/orders/:id", s.GetOrder)
		v1.GET("/orders/:id/status", s.GetOrderStatus)
		v1.POST("/orders/:id/cancel", s.CancelOrder)
		v1.POST("/orders/:id/refund", authz.Require("orders.refund"), s.RefundOrder)
		v1.PATCH("/orders/:id/status", authz.Require("orders.write"), s.UpdateOrderStatus)

		v1.POST("/reservations", s.CreateReservation)
		v1.DELETE("/reservations/:id", s.ReleaseReservation)

		v1.GET("/products", s.ListProducts)
		v1.GET("/products/:id", s.GetProduct)
		v1.GET("/products/:id/availability", s.GetAvailability)
		v1.POST("/products", authz.Require("products.write"), s.CreateProduct)
		v1.PATCH("/products/:id/stock", authz.Require("products.write"), s.AdjustStock)

		v1.POST("/payments/webhook", VerifyWebhookSignature(cfg.Security.WebhookSecret), s.PaymentWebhook)
	}

	return r
}
