package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rentchain/gateway/middleware"
)

// Config assembles the gateway handler tree.
type Config struct {
	Rental        *RentalAPI
	Exec          *ExecAPI
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// AdminScope is the JWT scope required for whitelist and parameter mutations.
const AdminScope = "rental.admin"

// SettleScope is the JWT scope required to post settlement callbacks.
const SettleScope = "rental.settle"

// New builds the gateway router: public read endpoints, an admin surface
// gated by JWT scope, and the operational endpoints (healthz, metrics).
func New(cfg Config) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Method(http.MethodGet, "/metrics", obs.MetricsHandler())
	}

	if cfg.Rental != nil {
		var readChain []func(http.Handler) http.Handler
		var adminChain []func(http.Handler) http.Handler
		if cfg.RateLimiter != nil {
			readChain = append(readChain, cfg.RateLimiter.Middleware("rental"))
			adminChain = append(adminChain, cfg.RateLimiter.Middleware("admin"))
		}
		if cfg.Authenticator != nil {
			readChain = append(readChain, cfg.Authenticator.Middleware())
			adminChain = append(adminChain, cfg.Authenticator.Middleware(AdminScope))
		}

		r.Route("/v1/rental", func(r chi.Router) {
			r.Use(readChain...)
			r.Get("/params", cfg.Rental.GetParams)
			r.Get("/orders/{hash}", cfg.Rental.GetOrder)
			r.Get("/rented/{wallet}/{token}/{id}", cfg.Rental.GetRentedAmount)
			r.Get("/wallets/{wallet}", cfg.Rental.GetWallet)
			r.Get("/whitelist/assets/{token}", cfg.Rental.GetAssetFlags)
			r.Get("/whitelist/payments/{token}", cfg.Rental.GetPaymentAllowed)
			r.Get("/whitelist/delegates/{target}", cfg.Rental.GetDelegateAllowed)
			r.Get("/hooks/{target}", cfg.Rental.GetHookFlags)
			r.Get("/paused", cfg.Rental.GetPaused)
		})
		r.Route("/v1/escrow", func(r chi.Router) {
			r.Use(readChain...)
			r.Get("/balances/{token}", cfg.Rental.GetEscrowBalance)
			r.Get("/fee", cfg.Rental.GetEscrowFee)
		})
		if cfg.Exec != nil {
			var settleChain []func(http.Handler) http.Handler
			execChain := readChain
			if cfg.RateLimiter != nil {
				settleChain = append(settleChain, cfg.RateLimiter.Middleware("exec"))
			}
			if cfg.Authenticator != nil {
				settleChain = append(settleChain, cfg.Authenticator.Middleware(SettleScope))
			}
			r.Route("/v1/exec", func(r chi.Router) {
				r.With(settleChain...).Post("/settlements", cfg.Exec.Settle)
				r.With(execChain...).Post("/stops", cfg.Exec.Stop)
				r.With(execChain...).Post("/stops/batch", cfg.Exec.StopBatch)
				r.With(readChain...).Post("/guard/check", cfg.Exec.GuardCheck)
			})
		}
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(adminChain...)
			r.Post("/whitelist/assets", cfg.Rental.SetAssetFlags)
			r.Post("/whitelist/payments", cfg.Rental.SetPaymentAllowed)
			r.Post("/whitelist/delegates", cfg.Rental.SetDelegateAllowed)
			r.Post("/whitelist/extensions", cfg.Rental.SetExtensionFlags)
			r.Post("/hooks", cfg.Rental.SetHookFlags)
			r.Post("/hook-bindings", cfg.Rental.SetHookBinding)
			r.Post("/fee", cfg.Rental.SetEscrowFee)
			r.Post("/limits", cfg.Rental.SetLimits)
			r.Post("/pause", cfg.Rental.SetPause)
		})
	}

	return otelhttp.NewHandler(r, "gateway"), nil
}
