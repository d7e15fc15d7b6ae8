package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
)

type uploadSignRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type uploadCompleteRequest struct {
	ObjectKey string `json:"objectKey"`
	// clients that only kept the public URL may send it instead
	ImageURL string `json:"imageUrl"`
}

type uploadSignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt string            `json:"expiresAt"`
}

type uploadedImage struct {
	ImageURL           string `json:"imageUrl"`
	ThumbnailURL       string `json:"thumbnailUrl"`
	ObjectKey          string `json:"objectKey"`
	ThumbnailObjectKey string `json:"thumbnailObjectKey"`
}

const (
	maxUploadSizeBytes int64 = 5 * 1024 * 1024
	productImagePrefix       = "products"
	thumbnailWidth           = 200
)

// blob store seams; tests swap them
var (
	uploadBlob = utils.UploadBytesToGCS
	readBlob   = utils.ReadObjectFromGCS
	deleteBlob = utils.DeleteObjectFromGCS
)

// uploadImagesHandler takes multipart "images" files, stores each with a thumbnail and
// returns their public URLs in request order.
func uploadImagesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		requestID := requestIDFromHeaders(c)
		maxImages := config.GetStoreConfig().MaxUploadImages

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(maxImages)*maxUploadSizeBytes+1<<20)
		form, err := c.MultipartForm()
		if err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid multipart form"))
			return
		}
		files := form.File["images"]
		if len(files) == 0 {
			respondError(c, utils.NewSelectionError(-1, "no images were sent"))
			return
		}
		if len(files) > maxImages {
			respondError(c, utils.NewSelectionError(-1, "at most %d images can be uploaded at once", maxImages))
			return
		}

		uploaded := make([]uploadedImage, 0, len(files))
		for i, fh := range files {
			data, contentType, err := readImageFile(fh)
			if err != nil {
				respondError(c, utils.NewSelectionError(i, "%s: %v", fh.Filename, err))
				return
			}
			image, err := storeProductImage(c.Request.Context(), data, contentType)
			if err != nil {
				logUploadError(logger, err, utils.GetStorageProvider(), requestID)
				respondError(c, utils.WrapStorageFault("upload image", err))
				return
			}
			uploaded = append(uploaded, *image)
		}

		logger.WithFields(logrus.Fields{
			"count":      len(uploaded),
			"request_id": requestID,
			"actor":      utils.ActorFromContext(c.Request.Context()),
		}).Info("[upload.images]")
		c.JSON(http.StatusOK, gin.H{"data": uploaded})
	}
}

func readImageFile(fh *multipart.FileHeader) ([]byte, string, error) {
	if fh.Size > maxUploadSizeBytes {
		return nil, "", errors.New("file size exceeds 5MB limit")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadSizeBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxUploadSizeBytes {
		return nil, "", errors.New("file size exceeds 5MB limit")
	}
	contentType := http.DetectContentType(data)
	if _, ok := utils.ImageContentTypes[contentType]; !ok {
		return nil, "", fmt.Errorf("unsupported image type %q", contentType)
	}
	return data, contentType, nil
}

func storeProductImage(ctx context.Context, data []byte, contentType string) (*uploadedImage, error) {
	objectKey := path.Join(productImagePrefix, uuid.NewString()+utils.ImageContentTypes[contentType])
	imageURL, err := uploadBlob(ctx, objectKey, data, contentType)
	if err != nil {
		return nil, err
	}
	thumbKey, thumbURL, err := storeThumbnail(ctx, objectKey, data)
	if err != nil {
		return nil, err
	}
	return &uploadedImage{
		ImageURL:           imageURL,
		ThumbnailURL:       thumbURL,
		ObjectKey:          objectKey,
		ThumbnailObjectKey: thumbKey,
	}, nil
}

func makeThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	thumbnail := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func storeThumbnail(ctx context.Context, objectKey string, data []byte) (string, string, error) {
	thumb, err := makeThumbnail(data)
	if err != nil {
		return "", "", err
	}
	thumbnailKey := thumbnailObjectKey(objectKey)
	url, err := uploadBlob(ctx, thumbnailKey, thumb, "image/jpeg")
	if err != nil {
		return "", "", err
	}
	return thumbnailKey, url, nil
}

func signUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		requestID := requestIDFromHeaders(c)

		var req uploadSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewSelectionError(-1, "invalid request"))
			return
		}
		if req.FileName == "" || req.MimeType == "" || req.Size <= 0 {
			respondError(c, utils.NewSelectionError(-1, "fileName, mimeType and size are required"))
			return
		}
		if req.Size > maxUploadSizeBytes {
			respondError(c, utils.NewSelectionError(-1, "file size exceeds 5MB limit"))
			return
		}
		ext, ok := utils.ImageContentTypes[req.MimeType]
		if !ok {
			respondError(c, utils.NewSelectionError(-1, "unsupported image type"))
			return
		}
		if given := strings.ToLower(filepath.Ext(req.FileName)); given == ".jpeg" || given == ".png" {
			ext = given
		}

		objectKey := path.Join(productImagePrefix, uuid.NewString()+ext)
		signed, err := utils.SignUpload(c.Request.Context(), objectKey, req.MimeType, 15*time.Minute)
		if err != nil {
			logUploadError(logger, err, utils.GetStorageProvider(), requestID)
			message := "failed to sign upload"
			if !config.IsProduction() {
				message = fmt.Sprintf("failed to sign upload: %v", err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": message, "code": "storage_fault"})
			return
		}

		logger.WithFields(logrus.Fields{
			"mime_type":  req.MimeType,
			"size":       req.Size,
			"object_key": objectKey,
		}).Info("[upload.sign]")

		c.JSON(http.StatusOK, gin.H{
			"data": uploadSignResponse{
				UploadURL: signed.UploadURL,
				Method:    signed.Method,
				Headers:   signed.Headers,
				ObjectKey: signed.ObjectKey,
				AccessURL: signed.AccessURL,
				ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

// completeUploadHandler builds the thumbnail for an image uploaded through a signed URL.
func completeUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		requestID := requestIDFromHeaders(c)

		var req uploadCompleteRequest
		err := c.ShouldBindJSON(&req)
		if err == nil && req.ObjectKey == "" {
			req.ObjectKey = utils.ExtractObjectKeyFromURL(req.ImageURL)
		}
		if err != nil || req.ObjectKey == "" {
			respondError(c, utils.NewSelectionError(-1, "objectKey is required"))
			return
		}
		if !strings.HasPrefix(req.ObjectKey, productImagePrefix+"/") || strings.Contains(req.ObjectKey, "..") {
			respondError(c, utils.NewSelectionError(-1, "invalid object key"))
			return
		}

		data, contentType, err := readBlob(c.Request.Context(), req.ObjectKey, maxUploadSizeBytes)
		if err != nil {
			logUploadError(logger, err, utils.GetStorageProvider(), requestID)
			respondError(c, utils.WrapStorageFault("read uploaded image", err))
			return
		}
		if _, ok := utils.ImageContentTypes[contentType]; !ok {
			// signed uploads bypass our type check, so drop what the client put there
			if derr := deleteBlob(c.Request.Context(), req.ObjectKey); derr != nil {
				logUploadError(logger, derr, utils.GetStorageProvider(), requestID)
			}
			respondError(c, utils.NewSelectionError(-1, "unsupported image type %q", contentType))
			return
		}
		thumbKey, thumbURL, err := storeThumbnail(c.Request.Context(), req.ObjectKey, data)
		if err != nil {
			logUploadError(logger, err, utils.GetStorageProvider(), requestID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate thumbnail", "code": "storage_fault"})
			return
		}

		logger.WithFields(logrus.Fields{
			"object_key": req.ObjectKey,
			"status":     "completed",
		}).Info("[upload.complete]")

		c.JSON(http.StatusOK, gin.H{"data": uploadedImage{
			ImageURL:           utils.BuildObjectAccessURL(req.ObjectKey),
			ThumbnailURL:       thumbURL,
			ObjectKey:          req.ObjectKey,
			ThumbnailObjectKey: thumbKey,
		}})
	}
}

func thumbnailObjectKey(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := strings.TrimSuffix(path.Base(objectKey), path.Ext(objectKey)) + ".jpg"
	return path.Join(dir, "thumbnails", filename)
}

func logUploadError(logger *logrus.Logger, err error, provider string, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"provider":   provider,
		"request_id": requestID,
	}).Error("[upload.error]")
}

func requestIDFromHeaders(c *gin.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok && id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader("X-Request-Id")); id != "" {
		return id
	}
	return fmt.Sprintf("upload-%d", time.Now().UnixNano())
}
