package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/metrics"
)

const (
	contextKeyPortalSession = "httpapi_portal_session"

	jsonKeyError = "error"

	errorValueUnauthorized    = "unauthorized"
	errorValueForbidden       = "forbidden"
	errorValueAdminDisabled   = "admin_disabled"
	errorValueMissingBearer   = "missing_bearer"
	errorValueRateLimited     = "rate_limited"
	errorValuePortalMismatch  = "portal_mismatch"
	authorizationHeaderPrefix = "Bearer "
)

// RequestLogger logs every request through zap and feeds the HTTP request
// counter.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		route := context.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, context.Request.Method, strconv.Itoa(context.Writer.Status())).Inc()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		)
	}
}

// AdminAuthMiddleware guards the agency management API with a static
// bearer token.
func AdminAuthMiddleware(adminBearerToken string) gin.HandlerFunc {
	return func(context *gin.Context) {
		if adminBearerToken == "" {
			context.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueAdminDisabled})
			return
		}
		authorizationHeader := strings.TrimSpace(context.GetHeader("Authorization"))
		if !strings.HasPrefix(authorizationHeader, authorizationHeaderPrefix) {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueMissingBearer})
			return
		}
		provided := strings.TrimPrefix(authorizationHeader, authorizationHeaderPrefix)
		if provided != adminBearerToken {
			context.AbortWithStatusJSON(http.StatusForbidden, gin.H{jsonKeyError: errorValueForbidden})
			return
		}
		context.Next()
	}
}

// PortalSessionMiddleware verifies the session token on client-facing
// portal routes and stores the claims in the request context. The token
// must belong to the portal addressed by the route.
func PortalSessionMiddleware(sessionManager *auth.SessionManager, portalResolver func(*gin.Context) (string, bool)) gin.HandlerFunc {
	return func(context *gin.Context) {
		authorizationHeader := strings.TrimSpace(context.GetHeader("Authorization"))
		if !strings.HasPrefix(authorizationHeader, authorizationHeaderPrefix) {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
			return
		}
		claims, verifyErr := sessionManager.VerifySessionToken(strings.TrimPrefix(authorizationHeader, authorizationHeaderPrefix))
		if verifyErr != nil {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
			return
		}
		portalID, resolved := portalResolver(context)
		if !resolved || claims.PortalID != portalID {
			context.AbortWithStatusJSON(http.StatusForbidden, gin.H{jsonKeyError: errorValuePortalMismatch})
			return
		}
		context.Set(contextKeyPortalSession, claims)
		context.Next()
	}
}

// PortalSessionFromContext retrieves the verified session claims.
func PortalSessionFromContext(context *gin.Context) (auth.SessionClaims, bool) {
	value, exists := context.Get(contextKeyPortalSession)
	if !exists {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

// RateLimiter applies a per-client-IP token bucket, used on the login and
// link-request endpoints.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	mutex    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter constructs a RateLimiter allowing eventsPerMinute
// requests with the given burst per client IP.
func NewRateLimiter(eventsPerMinute int, burst int) *RateLimiter {
	if eventsPerMinute <= 0 {
		eventsPerMinute = 10
	}
	if burst <= 0 {
		burst = eventsPerMinute
	}
	return &RateLimiter{
		limit:    rate.Limit(float64(eventsPerMinute) / 60.0),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Middleware rejects requests over the per-IP budget with 429.
func (rateLimiter *RateLimiter) Middleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		clientIP := context.ClientIP()
		if host, _, splitErr := net.SplitHostPort(clientIP); splitErr == nil {
			clientIP = host
		}
		if !rateLimiter.limiterFor(clientIP).Allow() {
			context.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
			return
		}
		context.Next()
	}
}

func (rateLimiter *RateLimiter) limiterFor(clientIP string) *rate.Limiter {
	rateLimiter.mutex.Lock()
	defer rateLimiter.mutex.Unlock()
	limiter, exists := rateLimiter.limiters[clientIP]
	if !exists {
		limiter = rate.NewLimiter(rateLimiter.limit, rateLimiter.burst)
		rateLimiter.limiters[clientIP] = limiter
	}
	return limiter
}
