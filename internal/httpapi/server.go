// Package httpapi exposes the booking workflows over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// Session roles.
const (
	RoleTourist       = "tourist"
	RoleGuide         = "guide"
	RoleAdministrator = "administrator"
)

const (
	claimsContextKey = "auth_claims"
	shutdownTimeout  = 5 * time.Second
)

var ErrInvalidServerConfig = errors.New("invalid server config")

// Services groups the workflows served by the router.
type Services struct {
	Bonus        BonusService
	Purchases    PurchaseService
	Problems     ProblemService
	Replacements ReplacementService
}

func (services Services) validate() error {
	switch {
	case services.Bonus == nil:
		return fmt.Errorf("%w: bonus service is nil", ErrInvalidServerConfig)
	case services.Purchases == nil:
		return fmt.Errorf("%w: purchase service is nil", ErrInvalidServerConfig)
	case services.Problems == nil:
		return fmt.Errorf("%w: problem service is nil", ErrInvalidServerConfig)
	case services.Replacements == nil:
		return fmt.Errorf("%w: replacement service is nil", ErrInvalidServerConfig)
	}
	return nil
}

// RouterConfig carries the HTTP-facing settings.
type RouterConfig struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
}

// NewSessionMiddleware builds the cookie session validator. It stores the
// validated claims under the "auth_claims" context key.
func NewSessionMiddleware(signingKey string, issuer string, cookieName string) (gin.HandlerFunc, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(signingKey),
		Issuer:     issuer,
		CookieName: cookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	return validator.GinMiddleware(claimsContextKey), nil
}

// NewRouter wires every route.
func NewRouter(cfg RouterConfig, services Services, session gin.HandlerFunc, logger *zap.Logger) (*gin.Engine, error) {
	if err := services.validate(); err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session middleware is nil", ErrInvalidServerConfig)
	}
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return nil, fmt.Errorf("%w: at least one allowed origin is required", ErrInvalidServerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	handler := &httpHandler{services: services, logger: logger}

	api := router.Group("/api")
	api.Use(session)

	tourist := api.Group("")
	tourist.Use(requireRole(RoleTourist))
	tourist.GET("/bonus", handler.handleBalance)
	tourist.GET("/bonus/transactions", handler.handleBonusHistory)
	tourist.GET("/bonus/audit", handler.handleBonusAudit)
	tourist.POST("/purchases", handler.handleProcessPurchase)
	tourist.GET("/purchases", handler.handlePurchaseHistory)
	tourist.GET("/purchases/:id", handler.handleGetPurchase)
	tourist.POST("/problems", handler.handleReportProblem)
	tourist.GET("/problems/mine", handler.handleTouristProblems)

	guide := api.Group("/guide")
	guide.Use(requireRole(RoleGuide))
	guide.GET("/problems", handler.handleGuideProblems)
	guide.POST("/problems/:id/resolve", handler.handleResolveProblem)
	guide.POST("/problems/:id/escalate", handler.handleEscalateProblem)
	guide.POST("/replacements", handler.handleRequestReplacement)
	guide.GET("/replacements/mine", handler.handleMyReplacements)
	guide.GET("/replacements/available", handler.handleAvailableReplacements)
	guide.GET("/replacements/:id", handler.handleReplacementDetails)
	guide.POST("/replacements/:id/cancel", handler.handleCancelReplacement)
	guide.POST("/replacements/:id/accept", handler.handleAcceptReplacement)

	admin := api.Group("/admin")
	admin.Use(requireRole(RoleAdministrator))
	admin.GET("/problems", handler.handleReviewQueue)
	admin.POST("/problems/:id/return", handler.handleReturnProblem)
	admin.POST("/problems/:id/reject", handler.handleRejectProblem)
	admin.POST("/bonus/:id/expire", handler.handleExpirePoints)

	return router, nil
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		if !slices.Contains(claims.GetUserRoles(), role) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", fmt.Sprintf("%s role required", role)))
			return
		}
		ctx.Next()
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func userID(ctx *gin.Context) string {
	claims := getClaims(ctx)
	if claims == nil {
		return ""
	}
	return claims.GetUserID()
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	category := fault.Classify(err)
	switch category {
	case fault.CategoryNotFound:
		ctx.JSON(http.StatusNotFound, errorResponse(string(category), err.Error()))
	case fault.CategoryInvalidState:
		ctx.JSON(http.StatusConflict, errorResponse(string(category), err.Error()))
	case fault.CategoryInvalidArgument:
		ctx.JSON(http.StatusBadRequest, errorResponse(string(category), err.Error()))
	case fault.CategoryForbidden:
		ctx.JSON(http.StatusForbidden, errorResponse(string(category), err.Error()))
	default:
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(string(category), "internal error"))
	}
}
