package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"referralpay/internal/config"
	"referralpay/internal/db"
	"referralpay/internal/middleware"
	"referralpay/internal/websocket"
)

type Deps struct {
	TxRunner     db.TxRunner
	Users        UserStore
	Transactions TransactionStore
	Audit        AuditStore
	Reconciler   Reconciler
	Webhooks     WebhookVerifier
	Registration RegistrationService
	Deposits     DepositService
	Withdrawals  WithdrawalService
	KYC          KYCService
	Accounts     AccountService
	Team         TeamService
	Hub          *websocket.Hub
}

type Handler struct {
	cfg          config.Config
	txRunner     db.TxRunner
	users        UserStore
	transactions TransactionStore
	audit        AuditStore
	reconciler   Reconciler
	webhooks     WebhookVerifier
	registration RegistrationService
	deposits     DepositService
	withdrawals  WithdrawalService
	kyc          KYCService
	accounts     AccountService
	team         TeamService
	hub          *websocket.Hub
}

func New(cfg config.Config, deps Deps) *Handler {
	return &Handler{
		cfg:          cfg,
		txRunner:     deps.TxRunner,
		users:        deps.Users,
		transactions: deps.Transactions,
		audit:        deps.Audit,
		reconciler:   deps.Reconciler,
		webhooks:     deps.Webhooks,
		registration: deps.Registration,
		deposits:     deps.Deposits,
		withdrawals:  deps.Withdrawals,
		kyc:          deps.KYC,
		accounts:     deps.Accounts,
		team:         deps.Team,
		hub:          deps.Hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestLogger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authenticated := middleware.Auth(h.cfg.JWTSecret)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(authenticated).Get("/me", h.Me)
	})
	router.Post("/webhooks/stripe", h.StripeWebhook)

	router.Group(func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/users/me/password", h.ChangePassword)
		r.Patch("/users/me/profile", h.UpdateProfile)
		r.Put("/users/me/pin", h.SetPin)
		r.Get("/team/tree", h.TeamTree)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Post("/deposits", h.CreateDeposit)
		r.Get("/withdrawals", h.ListWithdrawals)
		r.Post("/withdrawals", h.RequestWithdrawal)
		r.Get("/kyc/status", h.KYCStatus)
		r.Post("/kyc", h.SubmitKYC)
	})
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(authenticated)
		r.Use(middleware.RequireAdmin(h.users))
		r.Get("/users", h.AdminListUsers)
		r.Put("/users/{id}/status", h.AdminSetUserStatus)
		r.Put("/users/{id}/withdrawal-status", h.AdminSetWithdrawalStatus)
		r.Post("/users/{id}/credit", h.AdminCredit)
		r.Get("/users/{id}/audit", h.AdminUserAudit)
		r.Get("/transactions", h.AdminListTransactions)
		r.Get("/withdrawals", h.AdminListWithdrawals)
		r.Post("/withdrawals/{id}/approve", h.AdminApproveWithdrawal)
		r.Post("/withdrawals/{id}/deny", h.AdminDenyWithdrawal)
		r.Get("/kyc", h.AdminListKYC)
		r.Post("/kyc/{id}/review", h.AdminReviewKYC)
		r.Get("/audit", h.ListAuditLogs)
		r.Get("/reconcile", h.Reconcile)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
