package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/middlewares"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
	"github.com/vastramandir/storefront_backend/workflow"
)

const defaultPort = "8080"

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "code": "not_found"})
}

func correlationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// readinessGate returns 503 until the database and Redis are connected.
func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is starting", "code": "unavailable"})
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	// production needs an explicit allowlist; unset means deny all
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-cart-id", "Idempotency-Key", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-cart-id", "x-correlation-id")
	corsConfig.AllowCredentials = true
	return cors.New(corsConfig)
}

func envInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func setupRouter(logger *logrus.Logger, notifier workflow.Notifier) *gin.Engine {
	r := gin.New()
	r.Use(correlationIdMiddleware())
	r.Use(readinessGate())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(corsMiddleware())

	if config.RateLimitEnabled() {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := envInt64("RATE_LIMIT_MAX_REQUESTS", 600)
		windowSec := envInt64("RATE_LIMIT_WINDOW_SECONDS", 60)
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.CartMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/products", listProductsHandler())
	r.GET("/products/:id", getProductHandler())
	r.GET("/products/:id/variants/:color/sizes", availableSizesHandler())
	r.GET("/categories", listCategoriesHandler())
	r.GET("/settings/payment", paymentSettingsHandler())

	r.GET("/cart", getCartHandler())
	r.POST("/cart/items", addCartItemHandler())
	r.PUT("/cart/items/:lineId", updateCartItemHandler())
	r.DELETE("/cart/items/:lineId", removeCartItemHandler())
	r.DELETE("/cart", clearCartHandler())
	r.POST("/checkout", checkoutHandler(defaultCheckout))

	r.POST("/pubsub/notifications", notificationPushHandler(notifier))

	r.POST("/admin/login", loginHandler())
	admin := r.Group("/admin", middlewares.RequireAdmin())
	{
		admin.POST("/logout", logoutHandler())

		admin.GET("/orders", listOrdersHandler())
		admin.GET("/orders/export", exportOrdersHandler())
		admin.GET("/orders/:id", getOrderHandler())
		admin.POST("/orders/:id/transition", transitionOrderHandler())
		admin.POST("/orders/:id/verify-payment", verifyPaymentHandler())

		admin.POST("/products", createProductHandler())
		admin.PUT("/products/:id", updateProductHandler())
		admin.POST("/products/:id/sold-out", soldOutHandler())
		admin.DELETE("/products/:id", deleteProductHandler())
		admin.PUT("/products/:id/stock", setStockHandler())

		admin.POST("/uploads", uploadImagesHandler())
		admin.POST("/uploads/sign", signUploadHandler())
		admin.POST("/uploads/complete", completeUploadHandler())

		admin.GET("/settings/:key", getSettingHandler())
		admin.PUT("/settings/:key", putSettingHandler())
		admin.GET("/logs", adminLogsHandler())
		admin.GET("/dashboard", dashboardHandler())
		admin.GET("/notifications", pendingNotificationsHandler())
		admin.POST("/ops/outbox/replay", outboxReplayHandler())
	}
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	store := config.GetStoreConfig()
	logger.WithFields(logrus.Fields{
		"field":     "store config",
		"shop_name": store.ShopName,
		"surcharge": store.ExpediteSurcharge.String(),
	}).Info("store config loaded")

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	notifier := workflow.NewWhatsAppNotifier(logger)
	r := setupRouter(logger, notifier)

	// listen first so the startup probe passes; the readiness gate answers 503 meanwhile
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := config.RetryBackoff(attempt)
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	delivery := config.NotificationDelivery()
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	dispatcher := workflow.NewOutboxDispatcher(db, logger, workflow.PublisherForDelivery(delivery, notifier))
	go dispatcher.Run(dispatcherCtx)

	logger.WithFields(logrus.Fields{
		"info":     "Connection Established",
		"delivery": delivery,
	}).Info("storefront listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// stop the dispatcher before draining requests
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "RateLimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// redis trouble must not take the shop down
		config.LogError(config.GetLogger(), "server.go", "RateLimitMiddleware", "Incr", key, err)
		c.Next()
		return
	}
	if count == 1 {
		if err := rl.client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			config.LogError(config.GetLogger(), "server.go", "RateLimitMiddleware", "Expire", key, err)
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
			"code":  "rate_limited",
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
