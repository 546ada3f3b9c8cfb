package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Protocol    *service.Protocol
	Accounts    *service.AccountManager
	Audit       *service.AuditService
	Idempotency middleware.IdempotencyStore
	History     EventHistory
	Stream      http.Handler
	ReadOnly    bool
}

// NewRouter wires the v1 API. Protocol components enforce their own
// authorization; the role middleware only rejects early.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	if d.Audit != nil {
		r.Use(middleware.AuditMiddleware(d.Audit))
	}
	r.Use(middleware.ReadOnlyMiddleware(d.ReadOnly))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "ctf-exchange", "read_only": d.ReadOnly})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	proto := d.Protocol
	orders := NewOrderHandler(proto)
	admin := NewAdminHandler(proto)
	beacons := NewBeaconHandler(proto.Beacon)
	proxies := NewProxyHandler(proto.Factory, proto.Safes)
	oracles := NewOracleHandler(proto.Resolver)
	accounts := NewAccountHandler(proto, d.Accounts)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.Accounts))
	v1.Use(middleware.RateLimitMiddleware(d.Accounts))
	if d.Idempotency != nil {
		v1.Use(middleware.IdempotencyMiddleware(d.Idempotency))
	}

	v1.GET("/exchange", admin.Status)
	v1.GET("/tokens/:token", admin.GetToken)
	v1.GET("/accounts/me", accounts.Me)
	v1.GET("/balances/:address/:token", accounts.Balance)

	v1.POST("/orders/hash", orders.HashOrder)
	v1.POST("/orders/typed", orders.BuildTypedOrder)
	v1.POST("/orders/validate", orders.ValidateOrder)
	v1.GET("/orders/:hash/status", orders.GetOrderStatus)
	v1.GET("/nonces/:address", orders.GetNonce)
	v1.POST("/nonces/increment", orders.IncrementNonce)

	trading := v1.Group("/orders", middleware.RoleMiddleware(proto.Exchange.Roles(), auth.Operator))
	trading.POST("/fill", orders.FillOrder)
	trading.POST("/fills", orders.FillOrders)
	trading.POST("/match", orders.MatchOrders)

	v1.GET("/roles", admin.ListRoles)
	v1.POST("/roles/:role/renounce", admin.RenounceRole)

	adm := v1.Group("/admin", middleware.RoleMiddleware(proto.Exchange.Roles(), auth.Admin))
	adm.POST("/pause", admin.Pause)
	adm.POST("/unpause", admin.Unpause)
	adm.POST("/tokens", admin.RegisterToken)
	adm.POST("/markets", admin.RegisterMarket)
	adm.PUT("/fee-ceiling", admin.SetFeeCeiling)
	adm.POST("/roles/:role/:address", admin.GrantRole)
	adm.DELETE("/roles/:role/:address", admin.RevokeRole)
	adm.GET("/accounts", accounts.List)

	b := v1.Group("/beacon")
	b.GET("", beacons.State)
	b.POST("/upgrade", beacons.ScheduleUpgrade)
	b.POST("/upgrade/execute", beacons.ExecuteUpgrade)
	b.POST("/upgrade/cancel", beacons.CancelUpgrade)
	b.POST("/rollback", beacons.Rollback)
	b.POST("/emergency-upgrade", beacons.EmergencyUpgrade)
	b.POST("/pause", beacons.Pause)
	b.POST("/unpause", beacons.Unpause)
	b.POST("/owner", beacons.TransferOwnership)

	p := v1.Group("/proxies")
	p.POST("", proxies.CreateProxy)
	p.GET("", proxies.ListProxies)
	p.GET("/predict", proxies.Predict)
	p.GET("/:address", proxies.GetProxy)
	p.POST("/:address/execute", proxies.Execute)
	p.POST("/:address/pause", proxies.Pause)
	p.POST("/:address/unpause", proxies.Unpause)
	p.POST("/:address/nonce", proxies.IncrementNonce)
	v1.GET("/safes/:owner", proxies.SafeAddress)

	o := v1.Group("/oracle")
	o.POST("/requests", oracles.RequestPrice)
	o.GET("/requests", oracles.ListRequests)
	o.GET("/requests/:id", oracles.GetRequest)
	o.POST("/requests/:id/propose", oracles.ProposePrice)
	o.POST("/requests/:id/dispute", oracles.DisputePrice)
	o.POST("/requests/:id/settle", oracles.SettleRequest)
	o.POST("/requests/:id/report", oracles.ReportPayouts)
	o.GET("/proposers", oracles.ListProposers)
	o.POST("/proposers/:address", oracles.AddProposer)
	o.DELETE("/proposers/:address", oracles.RemoveProposer)

	if d.Audit != nil {
		v1.GET("/audit", NewAuditHandler(d.Audit).List)
	}
	if d.History != nil {
		ev := NewEventHandler(d.History, d.Stream)
		v1.GET("/events", ev.List)
		if d.Stream != nil {
			v1.GET("/events/stream", ev.Stream)
		}
	}
	return r
}
