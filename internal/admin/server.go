package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tokengen/tokengen-bot/internal/repository"
	"github.com/tokengen/tokengen-bot/internal/service"
)

// Server exposes the health check, the account summary surface and a
// few operator endpoints.
type Server struct {
	addr        string
	username    string
	password    string
	log         *slog.Logger
	accounts    *service.AccountService
	accountRepo *repository.AccountRepository
	payments    *repository.PaymentRepository
	generations *repository.GenerationRepository
	bot         *tgbotapi.BotAPI
	router      *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, accounts *service.AccountService, accountRepo *repository.AccountRepository, payments *repository.PaymentRepository, generations *repository.GenerationRepository, bot *tgbotapi.BotAPI) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        addr,
		username:    username,
		password:    password,
		log:         log,
		accounts:    accounts,
		accountRepo: accountRepo,
		payments:    payments,
		generations: generations,
		bot:         bot,
		router:      r,
	}
	r.Get("/health", s.handleHealth)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Get("/accounts/{telegramID}", s.handleAccountSummary)
		protected.Get("/stats", s.handleStats)
		protected.Post("/broadcast", s.handleBroadcast)
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "online",
		"service":   "tokengen-bot",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	telegramID, err := strconv.ParseInt(chi.URLParam(r, "telegramID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid telegram id", http.StatusBadRequest)
		return
	}
	summary, err := s.accounts.Summary(r.Context(), telegramID)
	if err != nil {
		s.log.Error("account summary", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accounts, err := s.accountRepo.Count(ctx)
	if err != nil {
		s.log.Error("count accounts", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	paymentCount, stars, err := s.payments.Totals(ctx)
	if err != nil {
		s.log.Error("payment totals", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	generated, err := s.generations.Count(ctx)
	if err != nil {
		s.log.Error("count generations", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":         accounts,
		"payments":         paymentCount,
		"stars_total":      stars,
		"tokens_generated": generated,
	})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ids, err := s.accountRepo.ListTelegramIDs(r.Context())
	if err != nil {
		s.log.Error("list telegram ids", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	count := 0
	for _, id := range ids {
		if _, err := s.bot.Send(tgbotapi.NewMessage(id, req.Message)); err != nil {
			s.log.Error("broadcast send", "err", err, "telegram_id", id)
			continue
		}
		count++
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": count, "total": len(ids)})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
