package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	intconfig "sacco/internal/config"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/gateway"
	router "sacco/internal/http"
	"sacco/internal/http/handlers"
	"sacco/internal/notify"
	"sacco/internal/repositories"
	"sacco/internal/services"
	"sacco/internal/utils"
	"sacco/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stores struct {
	ledger   services.LedgerStore
	loans    services.LoanStore
	payments services.PaymentStore
	members  services.MemberStore
}

func main() {
	env := intconfig.LoadEnv()
	if env.GinMode != "" {
		gin.SetMode(env.GinMode)
	}
	if err := utils.InitLogger(env.LogLevel); err != nil {
		panic(err)
	}
	defer utils.SyncLogger()
	log := utils.Logger()

	split := services.SplitPolicy{
		OperationsRatio: env.OperationsRatio,
		InsuranceRatio:  env.InsuranceRatio,
		LoanRatio:       env.LoanRatio,
	}
	if err := split.Validate(); err != nil {
		log.Fatal("invalid split configuration", zap.Error(err))
	}

	st, err := openStores(env)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer intconfig.CloseDB()

	var (
		lease    services.Lease
		notifier services.Notifier = notify.LogNotifier{}
	)
	if env.RedisAddr != "" {
		rdb := repositories.NewRedisClient(env.RedisAddr)
		defer rdb.Close()
		lease = repositories.RedisLease{Client: rdb, Prefix: "sacco:lease:"}
		notifier = notify.RedisNotifier{Client: rdb, Channel: notify.DefaultChannel}
		pingRedis(rdb)
	}

	loans := &services.LoanService{
		Ledger:           st.ledger,
		Loans:            st.loans,
		Guarantors:       services.GuarantorPolicy{Ledger: st.ledger},
		Notifier:         notifier,
		EmergencyCeiling: env.EmergencyLoanCeiling,
	}
	collections := &services.CollectionService{
		Ledger:   st.ledger,
		Payments: st.payments,
		Gateway: gateway.NewClient(gateway.Config{
			BaseURL:     env.GatewayBaseURL,
			Token:       env.GatewayToken,
			ShortCode:   env.GatewayShortCode,
			CallbackURL: env.GatewayCallbackURL,
		}),
		Repayments:   loans,
		Split:        split,
		Lease:        lease,
		PollInterval: env.PollInterval,
		PollAttempts: env.PollAttempts,
	}
	handler := &handlers.Handler{
		Loans:       loans,
		Collections: collections,
		Auth:        services.AuthService{Members: st.members, Secret: []byte(env.JWTSecret)},
	}

	pool := worker.NewPool(env.SweepWorkers, env.SweepWorkers*4)
	sweeper := &services.Sweeper{
		Payments:    st.payments,
		Collections: collections,
		Pool:        pool,
		Lease:       lease,
		Interval:    env.SweepInterval,
		Grace:       env.SweepGrace,
		BatchSize:   100,
	}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	r := router.NewRouter(env, handler)

	srv := &http.Server{
		Addr:              env.AppAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		// reconcilePayment may hold the request for the whole poll budget
		WriteTimeout: env.PollInterval*time.Duration(env.PollAttempts) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", env.AppAddr), zap.String("store", env.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	stopSweep()
	pool.Stop()
	// in-flight reconciliations are picked up again by the sweeper after restart
	collections.Stop()
	loans.WaitNotifications()

	log.Info("server stopped")
}

func openStores(env intconfig.Env) (stores, error) {
	if env.Store == "memory" {
		mem := repositories.NewMemoryStore()
		if err := seedMemoryStore(mem); err != nil {
			return stores{}, err
		}
		return stores{ledger: mem, loans: mem, payments: mem, members: mem}, nil
	}

	db, err := intconfig.ConnectDB(env.MySQLDSN)
	if err != nil {
		return stores{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repositories.EnsureSchema(ctx, db); err != nil {
		return stores{}, err
	}
	return stores{
		ledger:   repositories.LedgerRepository{DB: db},
		loans:    repositories.LoanRepository{DB: db},
		payments: repositories.PaymentRepository{DB: db},
		members:  repositories.MemberRepository{DB: db},
	}, nil
}

// seedMemoryStore adds a finance officer so a local run can log in.
func seedMemoryStore(mem *repositories.MemoryStore) error {
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
	}
	hash, err := services.HashPassword(password)
	if err != nil {
		return err
	}
	mem.AddMember(models.Member{
		ID:           1,
		Name:         "Finance Officer",
		Email:        "finance@sacco.local",
		Phone:        "0700000000",
		Role:         domain.RoleFinance,
		PasswordHash: hash,
	})
	return nil
}

func pingRedis(rdb *redis.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// leases fail open and notifications are only logged on error
		utils.Logger().Warn("redis unavailable", zap.Error(err))
	}
}
