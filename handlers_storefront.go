package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
	"github.com/vastramandir/storefront_backend/workflow"
)

type productView struct {
	*models.Product
	PercentOff int  `json:"percent_off"`
	TotalStock int  `json:"total_stock"`
	LowStock   bool `json:"low_stock"`
}

func newProductView(p *models.Product) productView {
	view := productView{Product: p, PercentOff: utils.PercentOff(p.Price, p.Mrp)}
	if p.HasVariants() {
		for _, v := range p.Variants {
			view.TotalStock += v.TotalStock()
		}
		view.LowStock = utils.IsLowStock(view.TotalStock, config.GetStoreConfig().LowStockThreshold)
	}
	return view
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		respondError(c, utils.NewSelectionError(-1, "invalid %s", name))
		return 0, false
	}
	return id, true
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.ProductFilter{
			AvailableOnly: c.Query("available_only") == "true",
			Category:      c.Query("category"),
		}
		products, err := models.ListProducts(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		views := make([]productView, 0, len(products))
		for _, p := range products {
			views = append(views, newProductView(p))
		}
		c.JSON(http.StatusOK, gin.H{"data": views})
	}
}

func listCategoriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		categories, err := models.ListCategories(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": categories})
	}
}

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		product, err := models.GetProduct(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if product.IsDeleted {
			respondError(c, utils.ErrorRecordNotFound)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": newProductView(product)})
	}
}

func availableSizesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		sizes, err := models.NewStockLedger(config.GetDB()).GetAvailableSizes(c.Request.Context(), id, c.Param("color"))
		if err != nil {
			respondError(c, err)
			return
		}
		threshold := config.GetStoreConfig().LowStockThreshold
		out := make([]gin.H, 0, len(sizes))
		for _, s := range sizes {
			out = append(out, gin.H{
				"size":      s.Size,
				"quantity":  s.Quantity,
				"available": s.Quantity > 0,
				"low_stock": utils.IsLowStock(s.Quantity, threshold),
			})
		}
		c.JSON(http.StatusOK, gin.H{"data": out})
	}
}

func paymentSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		upiId := ""
		setting, err := models.GetSetting(c.Request.Context(), models.SettingKeyUpiId)
		switch {
		case err == nil:
			upiId = setting.Value
		case !errors.Is(err, utils.ErrorRecordNotFound):
			respondError(c, err)
			return
		}
		store := config.GetStoreConfig()
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"upi_id":             upiId,
			"shop_name":          store.ShopName,
			"expedite_surcharge": store.ExpediteSurcharge,
		}})
	}
}

// cartId returns the caller's cart, minting one (and echoing it in x-cart-id) when create is set.
func cartId(c *gin.Context, create bool) string {
	if id, ok := utils.GetCartIdFromContext(c.Request.Context()); ok && id != "" {
		return id
	}
	if !create {
		return ""
	}
	id := uuid.NewString()
	c.Header("x-cart-id", id)
	c.Request = c.Request.WithContext(utils.SetCartIdInContext(c.Request.Context(), id))
	return id
}

func cartResponse(c *gin.Context, status int, cart *models.Cart) {
	c.JSON(status, gin.H{"data": gin.H{
		"id":    cart.Id,
		"items": cart.Items,
		"count": cart.Count(),
		"total": cart.Total(),
	}})
}

func getCartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := cartId(c, false)
		if id == "" {
			cartResponse(c, http.StatusOK, &models.Cart{Items: []models.CartItem{}})
			return
		}
		cart, err := models.NewCartStore().Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		cartResponse(c, http.StatusOK, cart)
	}
}

func addCartItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCartItem
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid request"))
			return
		}
		cart, err := models.NewCartStore().Add(c.Request.Context(), cartId(c, true), input)
		if err != nil {
			respondError(c, err)
			return
		}
		cartResponse(c, http.StatusOK, cart)
	}
}

type cartQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func updateCartItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cartQuantityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid request"))
			return
		}
		id := cartId(c, false)
		if id == "" {
			respondError(c, utils.ErrorRecordNotFound)
			return
		}
		cart, err := models.NewCartStore().UpdateQuantity(c.Request.Context(), id, c.Param("lineId"), req.Quantity)
		if err != nil {
			respondError(c, err)
			return
		}
		cartResponse(c, http.StatusOK, cart)
	}
}

func removeCartItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := cartId(c, false)
		if id == "" {
			respondError(c, utils.ErrorRecordNotFound)
			return
		}
		cart, err := models.NewCartStore().Remove(c.Request.Context(), id, c.Param("lineId"))
		if err != nil {
			respondError(c, err)
			return
		}
		cartResponse(c, http.StatusOK, cart)
	}
}

func clearCartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.NewCartStore().Clear(c.Request.Context(), cartId(c, false)); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, req *workflow.CheckoutRequest) (*workflow.CheckoutResult, error)
}

func defaultCheckout() orderPlacer {
	return workflow.NewCheckout(config.GetDB(), config.GetLogger())
}

func checkoutHandler(newCheckout func() orderPlacer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workflow.CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid request: %v", err))
			return
		}
		req.CartId = cartId(c, false)
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))

		result, err := newCheckout().PlaceOrder(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"data": result})
	}
}
