package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	users     *service.UserService
	catalog   *service.CatalogService
	basket    *service.BasketService
	orders    *service.OrderService
	addresses *service.AddressService
	reports   *service.ReportService
	shipping  service.ShippingGetter
}

// NewHandler creates a new HTTP handler
func NewHandler(
	users *service.UserService,
	catalog *service.CatalogService,
	basket *service.BasketService,
	orders *service.OrderService,
	addresses *service.AddressService,
	reports *service.ReportService,
	shipping service.ShippingGetter,
) *Handler {
	return &Handler{
		users:     users,
		catalog:   catalog,
		basket:    basket,
		orders:    orders,
		addresses: addresses,
		reports:   reports,
		shipping:  shipping,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/register", h.register)
	v1.POST("/login", h.login)
	v1.GET("/products", h.listProducts)
	v1.GET("/products/:id", h.getProduct)

	authed := v1.Group("")
	authed.Use(h.requestContext(), requireUser())
	{
		authed.GET("/me", h.getMe)
		authed.PUT("/me", h.editMe)
		authed.PUT("/me/password", h.resetPassword)

		authed.GET("/basket", h.getBasket)
		authed.GET("/basket/count", h.basketCount)
		authed.POST("/basket/lines", h.addLine)
		authed.PUT("/basket/lines/:id", h.changeLineQuantity)
		authed.DELETE("/basket/lines/:id", h.removeLine)
		authed.PUT("/basket/shipping", h.setShipping)
		authed.POST("/checkout", h.checkout)

		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.POST("/orders/:id/continue", h.continueOrder)
		authed.PUT("/orders/:id/address", h.setOrderAddress)

		authed.GET("/addresses", h.listAddresses)
		authed.POST("/addresses", h.addAddress)
		authed.PUT("/addresses/:id", h.editAddress)
		authed.DELETE("/addresses/:id", h.deleteAddress)
		authed.POST("/addresses/:id/default", h.setDefaultAddress)

		authed.GET("/shipping-options", h.listShippingOptions)
	}

	staff := v1.Group("")
	staff.Use(h.requestContext(), requireUser(), requireStaff())
	{
		staff.POST("/products", h.createProduct)
		staff.DELETE("/products/:id", h.deleteProduct)
		staff.POST("/products/:id/stock", h.replenishStock)
		staff.PUT("/products/:id/image", h.setProductImage)
		staff.POST("/users", h.createUser)
		staff.GET("/reports/users", h.userReport)
		staff.GET("/reports/orders", h.orderReport)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type registerRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(),
		req.FirstName, req.LastName, req.Email, req.Password, models.RoleCustomer)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

type createUserRequest struct {
	registerRequest
	Role string `json:"role" binding:"required,oneof=customer staff admin"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(),
		req.FirstName, req.LastName, req.Email, req.Password, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Email or password incorrect"})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *Handler) getMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

type editDetailsRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
}

func (h *Handler) editMe(c *gin.Context) {
	var req editDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	if err := h.users.EditDetails(c.Request.Context(), user.ID, req.FirstName, req.LastName, req.Email); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type resetPasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	err := h.users.ResetPassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Current password incorrect"})
			return
		}
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context(),
		c.Query("sort"), c.Query("category"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	product, stock, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"product": product, "stock": stock})
}

type createProductRequest struct {
	Category    string         `json:"category" binding:"required,oneof=tshirt hat cd"`
	Name        string         `json:"name" binding:"required"`
	Price       int64          `json:"price" binding:"required,min=1"`
	Description string         `json:"description"`
	Stock       map[string]int `json:"stock"`
}

func (h *Handler) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	product := &models.Product{
		Category:    req.Category,
		Name:        req.Name,
		Price:       req.Price,
		Description: req.Description,
	}

	if err := h.catalog.CreateProduct(c.Request.Context(), product, req.Stock); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type replenishRequest struct {
	Variant  string `json:"variant" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) replenishStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req replenishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.catalog.Replenish(c.Request.Context(), id, req.Variant, req.Quantity); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type setImageRequest struct {
	Path string `json:"path" binding:"required"`
}

func (h *Handler) setProductImage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req setImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.catalog.SetImage(c.Request.Context(), id, req.Path); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) getBasket(c *gin.Context) {
	user := currentUser(c)

	order, lines, err := h.basket.GetBasket(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "lines": lines})
}

func (h *Handler) basketCount(c *gin.Context) {
	user := currentUser(c)

	count, err := h.basket.BasketCount(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

type addLineRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Variant   string `json:"variant" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) addLine(c *gin.Context) {
	var req addLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	order, err := h.basket.AddLine(c.Request.Context(), user.ID, req.ProductID, req.Variant, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

type changeQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required,min=0"`
}

func (h *Handler) changeLineQuantity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req changeQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	if err := h.basket.ChangeLineQuantity(c.Request.Context(), user.ID, id, *req.Quantity); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) removeLine(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	user := currentUser(c)
	if err := h.basket.RemoveLine(c.Request.Context(), user.ID, id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type setShippingRequest struct {
	ShippingID int64 `json:"shipping_id" binding:"required"`
}

func (h *Handler) setShipping(c *gin.Context) {
	var req setShippingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	order, _, err := h.basket.GetBasket(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if order == nil {
		respondError(c, service.ErrNotFound)
		return
	}

	if err := h.basket.SetShipping(c.Request.Context(), user.ID, order.ID, req.ShippingID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type setOrderAddressRequest struct {
	AddressID int64 `json:"address_id" binding:"required"`
}

func (h *Handler) setOrderAddress(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req setOrderAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	if err := h.basket.SetAddress(c.Request.Context(), user.ID, id, req.AddressID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type checkoutRequest struct {
	PaymentToken string `json:"payment_token" binding:"required"`
}

func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	order, err := h.orders.Place(c.Request.Context(), user.ID, req.PaymentToken, c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	user := currentUser(c)

	orders, err := h.orders.ListOrders(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	user := currentUser(c)
	order, lines, err := h.orders.GetOrder(c.Request.Context(), user.ID, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "lines": lines})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	user := currentUser(c)
	if err := h.orders.Cancel(c.Request.Context(), user.ID, id); err != nil {
		if errors.Is(err, service.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Order has been dispatched and can not be cancelled",
			})
			return
		}
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) continueOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	order, err := h.orders.ContinueOrder(c.Request.Context(), user.ID, id, req.PaymentToken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) listAddresses(c *gin.Context) {
	user := currentUser(c)

	addresses, err := h.addresses.ListAddresses(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

type addressRequest struct {
	Line1    string `json:"line1" binding:"required"`
	Line2    string `json:"line2"`
	Town     string `json:"town"`
	City     string `json:"city" binding:"required"`
	Postcode string `json:"postcode" binding:"required"`
}

func (r *addressRequest) fields() service.AddressFields {
	return service.AddressFields{
		Line1:    r.Line1,
		Line2:    r.Line2,
		Town:     r.Town,
		City:     r.City,
		Postcode: r.Postcode,
	}
}

func (h *Handler) addAddress(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	addr, err := h.addresses.AddAddress(c.Request.Context(), user.ID, req.fields())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, addr)
}

func (h *Handler) editAddress(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := currentUser(c)
	if err := h.addresses.EditAddress(c.Request.Context(), user.ID, id, req.fields()); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteAddress(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	user := currentUser(c)
	if err := h.addresses.DeleteAddress(c.Request.Context(), user.ID, id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) setDefaultAddress(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	user := currentUser(c)
	if err := h.addresses.SetDefault(c.Request.Context(), user.ID, id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) listShippingOptions(c *gin.Context) {
	options, err := h.shipping.GetShippingOptions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipping_options": options})
}

func (h *Handler) userReport(c *gin.Context) {
	h.report(c, h.reports.UserReport)
}

func (h *Handler) orderReport(c *gin.Context) {
	h.report(c, h.reports.OrderReport)
}

func (h *Handler) report(c *gin.Context, generate func(ctx context.Context, from, to time.Time, w io.Writer) error) {
	from, err := time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date, expected YYYY-MM-DD"})
		return
	}
	to, err := time.Parse("2006-01-02", c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to date, expected YYYY-MM-DD"})
		return
	}

	var buf bytes.Buffer
	if err := generate(c.Request.Context(), from, to.Add(24*time.Hour), &buf); err != nil {
		if errors.Is(err, service.ErrNoReportData) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No data found between those dates"})
			return
		}
		respondError(c, err)
		return
	}

	filename := uuid.New().String() + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
