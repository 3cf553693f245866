package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/models"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/bariqhq/bnpl_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe passes. Until DB/Redis
	// are ready, app endpoints return 503.
	r := gin.New()

	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "Signature")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	gatewayClient := models.NewPayTabsClient()

	api := r.Group("/api/v1")
	{
		customers := api.Group("/customers")
		customers.POST("", createCustomerHandler)
		customers.GET("", getCustomersHandler)
		customers.GET("/by-bariq/:bariqId", getCustomerByBariqIdHandler)
		customers.GET("/:id", getCustomerHandler)
		customers.PUT("/:id/status", updateCustomerStatusHandler)
		customers.PUT("/:id/credit-limit", setCreditLimitHandler)
		customers.PUT("/:id/device-token", updateDeviceTokenHandler)
		customers.PUT("/:id/notification-settings", setNotificationsEnabledHandler)
		customers.GET("/:id/debt", getCustomerDebtHandler)
		customers.GET("/:id/stats", getCustomerStatsHandler)
		customers.GET("/:id/transactions", getCustomerTransactionsHandler)
		customers.GET("/:id/transactions/:transactionId", getCustomerTransactionHandler)
		customers.POST("/:id/transactions/:transactionId/confirm", confirmTransactionHandler)
		customers.POST("/:id/transactions/:transactionId/reject", rejectTransactionHandler)
		customers.POST("/:id/payments", applyPaymentHandler)
		customers.POST("/:id/transactions/:transactionId/payments", makePaymentHandler)
		customers.GET("/:id/payments", getCustomerPaymentsHandler)
		customers.GET("/:id/notifications", getCustomerNotificationsHandler)
		customers.PUT("/:id/notifications/read-all", markAllNotificationsReadHandler)
		customers.PUT("/:id/notifications/:notificationId/read", markNotificationReadHandler)

		merchants := api.Group("/merchants")
		merchants.POST("", createMerchantHandler)
		merchants.GET("", getMerchantsHandler)
		merchants.GET("/:id", getMerchantHandler)
		merchants.PUT("/:id/status", updateMerchantStatusHandler)
		merchants.PUT("/:id/commission-rate", updateCommissionRateHandler)
		merchants.GET("/:id/transactions", getMerchantTransactionsHandler)
		merchants.GET("/:id/transactions/:transactionId", getMerchantTransactionHandler)
		merchants.POST("/:id/transactions/:transactionId/cancel", cancelTransactionHandler)
		merchants.POST("/:id/transactions/:transactionId/returns", processReturnHandler)
		merchants.GET("/:id/returns", getMerchantReturnsHandler)
		merchants.GET("/:id/pending-settlement", getPendingSettlementHandler)

		branches := api.Group("/branches")
		branches.POST("", createBranchHandler)
		branches.GET("", getBranchesHandler)
		branches.PUT("/:id/active", setBranchActiveHandler)

		api.POST("/transactions", createTransactionHandler)
		api.GET("/transactions", getTransactionsHandler)

		payments := api.Group("/payments")
		payments.GET("", getPaymentsHandler)
		payments.GET("/statistics", getPaymentStatisticsHandler)
		payments.POST("/gateway/initiate", initiateGatewayPaymentHandler(gatewayClient))
		payments.POST("/gateway/callback", gatewayCallbackHandler)
		payments.POST("/gateway/:paymentId/verify", verifyGatewayPaymentHandler(gatewayClient))
		payments.POST("/gateway/refund", refundGatewayPaymentHandler(gatewayClient))

		settlements := api.Group("/settlements")
		settlements.POST("", createSettlementHandler)
		settlements.GET("", getSettlementsHandler)
		settlements.GET("/statistics", getSettlementStatisticsHandler)
		settlements.GET("/:id", getSettlementDetailsHandler)
		settlements.POST("/:id/approve", approveSettlementHandler)
		settlements.POST("/:id/reject", rejectSettlementHandler)
		settlements.POST("/:id/transfer", transferSettlementHandler)
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateDatabase(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Background workers: outbox dispatcher (publishes AFTER commit) and the
	// periodic jobs (overdue sweep, reminders, settlement batches).
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.NewNotificationDispatcher(db, logger).Run(workerCtx)
	go workflow.NewScheduler(db, logger).Run(workerCtx)

	// Row locks rely on READ COMMITTED; gap locks under REPEATABLE READ cause
	// needless deadlocks on the insert-heavy tables.
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
