package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/middlewares"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
	"github.com/vastramandir/storefront_backend/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{utils.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{models.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{utils.NewSelectionError(0, "quantity must be at least 1"), http.StatusBadRequest, "invalid_selection"},
		{&utils.StockError{Line: 1, Err: utils.ErrInsufficientStock}, http.StatusConflict, "insufficient_stock"},
		{&utils.StockError{Line: 0, Err: utils.ErrVariantNotFound}, http.StatusConflict, "variant_not_found"},
		{&utils.StockError{Line: -1, Err: utils.ErrStockConflict}, http.StatusConflict, "stock_conflict"},
		{&models.TransitionError{From: models.OrderStatusDelivered, To: models.OrderStatusConfirmed}, http.StatusConflict, "invalid_transition"},
		{workflow.ErrIdempotencyInProgress, http.StatusConflict, "in_progress"},
		{fmt.Errorf("%w: order 7 is being updated", utils.ErrLockNotObtained), http.StatusConflict, "in_progress"},
		{fmt.Errorf("%w: %w", utils.ErrOrderPersistenceFailed, errors.New("deadlock")), http.StatusServiceUnavailable, "order_persistence_failed"},
		{utils.ErrorRecordNotFound, http.StatusNotFound, "not_found"},
		{utils.WrapStorageFault("list orders", errors.New("connection refused")), http.StatusInternalServerError, "storage_fault"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			got := classifyError(tc.err)
			assert.Equal(t, tc.status, got.status)
			assert.Equal(t, tc.code, got.code)
		})
	}
}

type fakePlacer struct {
	mu     sync.Mutex
	got    []workflow.CheckoutRequest
	result *workflow.CheckoutResult
	err    error
}

func (f *fakePlacer) PlaceOrder(_ context.Context, req *workflow.CheckoutRequest) (*workflow.CheckoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, *req)
	return f.result, f.err
}

func checkoutRouter(placer *fakePlacer) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CartMiddleware())
	r.POST("/checkout", checkoutHandler(func() orderPlacer { return placer }))
	return r
}

func postJSON(r http.Handler, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const checkoutBody = `{"customer_name":"Meera","phone":"9876543210","address":"12 Temple Rd","pincode":"560001",
"payment_mode":"cod","items":[{"product_id":1,"color":"Red","size":"M","quantity":1}]}`

func TestCheckoutHandler_Created(t *testing.T) {
	placer := &fakePlacer{result: &workflow.CheckoutResult{Order: &models.Order{ID: 7, Status: models.OrderStatusCodPending}}}
	w := postJSON(checkoutRouter(placer), "/checkout", checkoutBody, map[string]string{
		"x-cart-id":       "cart-1",
		"Idempotency-Key": " key-1 ",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, placer.got, 1)
	assert.Equal(t, "cart-1", placer.got[0].CartId)
	assert.Equal(t, "key-1", placer.got[0].IdempotencyKey)
	assert.Equal(t, models.PaymentModeCod, placer.got[0].PaymentMode)
	assert.Len(t, placer.got[0].Items, 1)

	var body struct {
		Data struct {
			Order struct {
				ID int `json:"id"`
			} `json:"order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 7, body.Data.Order.ID)
}

func TestCheckoutHandler_ReplayReturnsOK(t *testing.T) {
	placer := &fakePlacer{result: &workflow.CheckoutResult{Order: &models.Order{ID: 7}, Replayed: true}}
	w := postJSON(checkoutRouter(placer), "/checkout", checkoutBody, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutHandler_StockErrorCarriesLine(t *testing.T) {
	placer := &fakePlacer{err: &utils.StockError{Line: 2, ProductId: 3, Color: "Blue", Size: "S", Err: utils.ErrInsufficientStock}}
	w := postJSON(checkoutRouter(placer), "/checkout", checkoutBody, nil)

	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_stock", body["code"])
	assert.EqualValues(t, 2, body["line"])
}

func TestCheckoutHandler_RejectsUnknownPaymentMode(t *testing.T) {
	placer := &fakePlacer{}
	body := strings.Replace(checkoutBody, `"cod"`, `"cheque"`, 1)
	w := postJSON(checkoutRouter(placer), "/checkout", body, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, placer.got)
}

func TestCheckoutHandler_HidesStorageFaultDetail(t *testing.T) {
	placer := &fakePlacer{err: utils.WrapStorageFault("create order", errors.New("dial tcp 10.0.0.3:3306"))}
	w := postJSON(checkoutRouter(placer), "/checkout", checkoutBody, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
}

func TestGetCartWithoutIdIsEmpty(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.CartMiddleware())
	r.GET("/cart", getCartHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cart", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"id":"","items":[],"count":0,"total":"0"}}`, w.Body.String())
}

func TestNotificationPush_MalformedIsAcked(t *testing.T) {
	r := gin.New()
	r.POST("/pubsub/notifications", notificationPushHandler(nil))

	garbage := base64.StdEncoding.EncodeToString([]byte(`{"id":0}`))
	for name, body := range map[string]string{
		"not json":      `{{`,
		"data not json": `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte("nope")) + `","id":"m1"}}`,
		"missing ids":   `{"message":{"data":"` + garbage + `","id":"m2"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := postJSON(r, "/pubsub/notifications", body, nil)
			assert.Equal(t, http.StatusNoContent, w.Code)
		})
	}
}

func TestDecodePush(t *testing.T) {
	msg := config.NotificationMessage{ID: 4, OrderId: 9, Event: "order_confirmed", Recipient: "919876543210", Message: "Confirmed"}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"message":      map[string]interface{}{"data": data, "id": "pubsub-1"},
		"subscription": "projects/p/subscriptions/s",
	})
	require.NoError(t, err)

	push, got, err := decodePush(body)
	require.NoError(t, err)
	assert.Equal(t, "pubsub-1", push.Message.ID)
	assert.Equal(t, 9, got.OrderId)
	assert.Equal(t, "919876543210", got.Recipient)
}

func TestReadinessGate(t *testing.T) {
	if config.GetDB() != nil {
		t.Skip("database connected")
	}
	r := gin.New()
	r.Use(readinessGate())
	r.GET("/products", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim("  "))
	assert.Equal(t, []string{"https://shop.example", "https://admin.example"}, splitAndTrim(" https://shop.example, ,https://admin.example "))
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMakeThumbnail(t *testing.T) {
	thumb, err := makeThumbnail(testPNG(t, 800, 400))
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)

	_, err = makeThumbnail([]byte("not an image"))
	assert.Error(t, err)
}

func TestThumbnailObjectKey(t *testing.T) {
	assert.Equal(t, "products/thumbnails/abc.jpg", thumbnailObjectKey("products/abc.png"))
	assert.Equal(t, "products/thumbnails/abc.jpg", thumbnailObjectKey("products/abc.jpeg"))
}

func multipartImages(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := mw.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestUploadImagesHandler(t *testing.T) {
	config.SetStoreConfig(config.DefaultStoreConfig())
	stored := map[string]string{}
	var mu sync.Mutex
	prev := uploadBlob
	uploadBlob = func(_ context.Context, name string, _ []byte, contentType string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		stored[name] = contentType
		return "https://storage.googleapis.com/bucket/" + name, nil
	}
	t.Cleanup(func() { uploadBlob = prev })

	r := gin.New()
	r.POST("/admin/uploads", uploadImagesHandler())

	body, contentType := multipartImages(t, map[string][]byte{"saree.png": testPNG(t, 400, 400)})
	req := httptest.NewRequest(http.MethodPost, "/admin/uploads", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data []uploadedImage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.True(t, strings.HasPrefix(resp.Data[0].ObjectKey, "products/"))
	assert.Equal(t, thumbnailObjectKey(resp.Data[0].ObjectKey), resp.Data[0].ThumbnailObjectKey)
	assert.Equal(t, "image/png", stored[resp.Data[0].ObjectKey])
	assert.Equal(t, "image/jpeg", stored[resp.Data[0].ThumbnailObjectKey])
}

func TestUploadImagesHandler_RejectsNonImage(t *testing.T) {
	config.SetStoreConfig(config.DefaultStoreConfig())
	r := gin.New()
	r.POST("/admin/uploads", uploadImagesHandler())

	body, contentType := multipartImages(t, map[string][]byte{"notes.txt": []byte("hello there")})
	req := httptest.NewRequest(http.MethodPost, "/admin/uploads", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported image type")
}

func TestCompleteUploadHandler_DeletesNonImage(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_URL", "")
	t.Setenv("GCS_BUCKET", "vm-images")

	prevRead, prevDelete := readBlob, deleteBlob
	t.Cleanup(func() { readBlob, deleteBlob = prevRead, prevDelete })
	readBlob = func(_ context.Context, name string, _ int64) ([]byte, string, error) {
		return []byte("hello there"), "text/plain; charset=utf-8", nil
	}
	var deleted []string
	deleteBlob = func(_ context.Context, name string) error {
		deleted = append(deleted, name)
		return nil
	}

	r := gin.New()
	r.POST("/admin/uploads/complete", completeUploadHandler())
	w := postJSON(r, "/admin/uploads/complete",
		`{"imageUrl":"https://storage.googleapis.com/vm-images/products/abc.jpg"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"products/abc.jpg"}, deleted)
}

func TestCompleteUploadHandler_RejectsForeignKey(t *testing.T) {
	r := gin.New()
	r.POST("/admin/uploads/complete", completeUploadHandler())
	w := postJSON(r, "/admin/uploads/complete", `{"objectKey":"../secrets/key.json"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid object key")
}
