package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userContextKey = "currentUser"

// prometheusMiddleware records request counts and latency per route
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).
			Observe(time.Since(start).Seconds())
	}
}

// requestContext resolves the calling user from the X-User-ID header and
// advances any of their orders whose dispatch or completion time has passed,
// so every authenticated request sees current statuses.
func (h *Handler) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("X-User-ID")
		if header == "" {
			c.Next()
			return
		}

		userID, err := strconv.ParseInt(header, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid X-User-ID header"})
			c.Abort()
			return
		}

		user, err := h.users.GetUser(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown user"})
				c.Abort()
				return
			}
			respondError(c, err)
			c.Abort()
			return
		}

		if err := h.orders.AdvanceUserOrders(c.Request.Context(), user.ID, time.Now()); err != nil {
			util.GetLogger().Warn("failed to advance order statuses",
				zap.Int64("user_id", user.ID),
				zap.Error(err))
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// requireUser rejects requests that did not resolve a user
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(userContextKey); !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireStaff hides staff routes from customers. A 404 rather than a 403
// keeps the admin surface undiscoverable.
func requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || (user.UserRole != models.RoleStaff && user.UserRole != models.RoleAdmin) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	v, exists := c.Get(userContextKey)
	if !exists {
		return nil
	}
	user, ok := v.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// respondError maps service errors to HTTP responses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrStockInsufficient):
		c.JSON(http.StatusConflict, gin.H{"error": "Insufficient stock available"})
	case errors.Is(err, service.ErrNoOpQuantityChange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Quantity unchanged"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Order is not in a state that allows this action"})
	case errors.Is(err, service.ErrEmptyOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Basket is empty"})
	case errors.Is(err, service.ErrNoAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No delivery address set"})
	case errors.Is(err, service.ErrInvalidVariant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid variant for this product"})
	case errors.Is(err, service.ErrPaymentFailed):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment was declined"})
	case errors.Is(err, service.ErrDuplicateUser):
		c.JSON(http.StatusConflict, gin.H{"error": "A user with that email already exists"})
	case errors.Is(err, service.ErrAddressInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "Address is attached to an active order"})
	case errors.Is(err, service.ErrNoReportData):
		c.JSON(http.StatusNotFound, gin.H{"error": "No data found between those dates"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		util.GetLogger().Error("unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
