package main

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/models/reports"
	"github.com/vastramandir/storefront_backend/utils"
	"github.com/vastramandir/storefront_backend/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewSelectionError(-1, "username and password are required"))
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": info})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": ok})
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return v
}

func listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		group := c.DefaultQuery("group", models.OrderGroupPending)
		statuses, err := models.StatusGroup(group)
		if err != nil {
			respondError(c, err)
			return
		}
		orders, err := models.NewOrderStore(config.GetDB()).ListByStatus(c.Request.Context(), statuses, queryInt(c, "limit", 100))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": orders})
	}
}

func getOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		order, err := models.NewOrderStore(config.GetDB()).Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		notifications, err := models.ListNotificationOutbox(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"order": order, "notifications": notifications}})
	}
}

type transitionRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func transitionOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req transitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid status"))
			return
		}
		result, err := models.NewOrderStore(config.GetDB()).Transition(c.Request.Context(), id, req.Status)
		if err != nil {
			respondError(c, err)
			return
		}

		link := ""
		if n := result.Notification; n != nil && n.Recipient != "" {
			link = utils.BuildWhatsAppLink(n.Recipient, n.Message)
		}
		config.GetLogger().WithFields(logrus.Fields{
			"order_id": id,
			"status":   req.Status,
			"actor":    utils.ActorFromContext(c.Request.Context()),
		}).Info("order transitioned")
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"order":         result.Order,
			"notification":  result.Notification,
			"whatsapp_link": link,
		}})
	}
}

func verifyPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		order, err := models.NewOrderStore(config.GetDB()).VerifyPayment(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": order})
	}
}

func exportOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		group := c.DefaultQuery("group", models.OrderGroupPending)
		var buf bytes.Buffer
		if err := reports.ExportOrders(c.Request.Context(), models.NewOrderStore(config.GetDB()), group, &buf); err != nil {
			respondError(c, err)
			return
		}
		filename := fmt.Sprintf("orders-%s-%s.xlsx", group, time.Now().Format("20060102"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid product: %v", err))
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": newProductView(product)})
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid product: %v", err))
			return
		}
		product, err := models.UpdateProduct(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": newProductView(product)})
	}
}

type soldOutRequest struct {
	IsSoldOut bool `json:"is_sold_out"`
}

func soldOutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req soldOutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid request"))
			return
		}
		product, err := models.SetProductSoldOut(c.Request.Context(), id, req.IsSoldOut)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": newProductView(product)})
	}
}

func deleteProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		product, err := models.DeleteProduct(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": product})
	}
}

type setStockRequest struct {
	Color    string `json:"color" binding:"required"`
	Size     string `json:"size" binding:"required"`
	Quantity int    `json:"quantity"`
	// required once the size exists; a mismatch answers 409 stock_conflict
	ExpectedQuantity *int `json:"expected_quantity"`
}

func setStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req setStockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewSelectionError(-1, "color and size are required"))
			return
		}
		ledger := models.NewStockLedger(config.GetDB())
		if err := ledger.SetStock(c.Request.Context(), id, req.Color, req.Size, req.Quantity, req.ExpectedQuantity); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"product_id": id,
			"color":      req.Color,
			"size":       req.Size,
			"quantity":   req.Quantity,
		}})
	}
}

func getSettingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if !models.IsKnownSetting(key) {
			respondError(c, utils.ErrorRecordNotFound)
			return
		}
		setting, err := models.GetSetting(c.Request.Context(), key)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": setting})
	}
}

type settingRequest struct {
	Value string `json:"value"`
}

func putSettingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req settingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid request"))
			return
		}
		setting, err := models.SetSetting(c.Request.Context(), c.Param("key"), req.Value)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": setting})
	}
}

func adminLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := models.ListAdminActionLogs(c.Request.Context(), queryInt(c, "limit", 50), queryInt(c, "before", 0), c.Query("kind"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": entries})
	}
}

func dashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dashboard, err := reports.GetDashboard(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": dashboard})
	}
}

func pendingNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pending, err := workflow.ListPendingNotifications(int64(queryInt(c, "limit", 50)))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": pending})
	}
}

type outboxReplayRequest struct {
	RecordId int  `json:"record_id"`
	AllDead  bool `json:"all_dead"`
}

func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil || (req.RecordId <= 0 && !req.AllDead) {
			respondError(c, utils.NewSelectionError(-1, "record_id or all_dead is required"))
			return
		}
		logger := config.GetLogger()
		actor := utils.ActorFromContext(c.Request.Context())

		if req.AllDead {
			count, err := models.ReplayDeadNotifications(c.Request.Context())
			if err != nil {
				respondError(c, err)
				return
			}
			logger.WithFields(logrus.Fields{"count": count, "actor": actor}).Info("outbox dead rows replayed")
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"replayed": count}})
			return
		}

		row, err := models.ReplayNotificationOutbox(c.Request.Context(), req.RecordId)
		if err != nil {
			respondError(c, err)
			return
		}
		logger.WithFields(logrus.Fields{"record_id": row.ID, "actor": actor}).Info("outbox row replayed")
		c.JSON(http.StatusOK, gin.H{"data": row})
	}
}
