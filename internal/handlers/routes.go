package handlers

import (
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
)

type Middleware = func(e *core.RequestEvent) error

// Routes is the HTTP surface under /api/v1/gateway.
type Routes struct {
	Payments    *PaymentHandler
	Withdrawals *WithdrawalHandler
	Admin       *AdminHandler

	// RateLimit, AntiBot and Operator apply to every route except the
	// webhook.
	RateLimit Middleware
	AntiBot   Middleware
	Operator  Middleware
}

func (rt Routes) Register(r *router.Router[*core.RequestEvent]) {
	g := r.Group("/api/v1/gateway")

	// Authenticated by digest, not operator key.
	g.POST("/webhooks/transactions", rt.Payments.Webhook)

	op := g.Group("")
	for _, mw := range []Middleware{rt.RateLimit, rt.AntiBot, rt.Operator} {
		if mw != nil {
			op.BindFunc(mw)
		}
	}

	op.POST("/checkout", rt.Payments.Checkout)
	op.GET("/transactions/{reference}", rt.Payments.GetTransaction)
	op.POST("/refunds", rt.Payments.Refund)

	op.POST("/withdrawals", rt.Withdrawals.Withdraw)
	op.GET("/withdrawals/{reference}", rt.Withdrawals.Status)
	op.POST("/accounts/resolve", rt.Withdrawals.ResolveAccount)

	op.GET("/banks", rt.Admin.ListBanks)
	op.POST("/organizers/{organizerId}/account", rt.Admin.ProvisionAccount)
	op.DELETE("/organizers/{organizerId}/account", rt.Admin.DeactivateAccount)
}
