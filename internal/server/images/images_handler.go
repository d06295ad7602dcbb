package images

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/server/handlers/api"
	"github.com/openmined/photoqueue/internal/server/middlewares"
)

const HeaderBatchID = "X-PhotoQueue-Batch"

type Handler struct {
	svc           *Service
	maxUploadSize int64
}

func NewHandler(svc *Service, maxUploadSize int64) *Handler {
	return &Handler{svc: svc, maxUploadSize: maxUploadSize}
}

func (h *Handler) Upload(ctx *gin.Context) {
	if h.maxUploadSize > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, h.maxUploadSize)
	}

	var req UploadRequest
	if err := ctx.ShouldBind(&req); err != nil {
		h.abortBind(ctx, err)
		return
	}

	// a token scoped to an album can only upload there
	if tokenAlbum := ctx.GetString(middlewares.AlbumContextKey); tokenAlbum != "" {
		if req.AlbumID == "" {
			req.AlbumID = tokenAlbum
		} else if req.AlbumID != tokenAlbum {
			api.AbortWithError(ctx, http.StatusForbidden, api.CodeAccessDenied,
				fmt.Errorf("token is not valid for album %q", req.AlbumID))
			return
		}
	}

	var metadata photo.Metadata
	if req.Metadata != "" {
		if err := json.Unmarshal([]byte(req.Metadata), &metadata); err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid metadata: %w", err))
			return
		}
		if err := metadata.Validate(); err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
			return
		}
	}
	metadata.Tags = photo.NormalizeTags(metadata.Tags)

	file, err := ctx.FormFile("file")
	if err != nil {
		h.abortBind(ctx, fmt.Errorf("invalid file: %w", err))
		return
	}

	if file.Size <= 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, errors.New("invalid file: size is 0"))
		return
	}

	fd, err := file.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	defer fd.Close()

	// the declared content type is not trusted
	mtype, err := mimetype.DetectReader(fd)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("read file: %w", err))
		return
	}
	if !photo.IsImageType(mtype.String()) {
		api.AbortWithError(ctx, http.StatusUnsupportedMediaType, api.CodeUnsupportedMedia,
			fmt.Errorf("unsupported content type %q", mtype.String()))
		return
	}
	if _, err := fd.Seek(0, io.SeekStart); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, fmt.Errorf("rewind file: %w", err))
		return
	}

	img, replayed, err := h.svc.Store(ctx.Request.Context(), &StoreParams{
		AlbumID:     req.AlbumID,
		BatchID:     ctx.GetHeader(HeaderBatchID),
		SortOrder:   req.SortOrder,
		Name:        file.Filename,
		Size:        file.Size,
		ContentType: mtype.String(),
		Extension:   mtype.Extension(),
		Uploader:    ctx.GetString(middlewares.SubjectContextKey),
		Metadata:    metadata,
		Body:        fd,
	})
	if errors.Is(err, ErrInvalidAlbum) {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeBlobPutFailed, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	ctx.PureJSON(status, &UploadResponse{ImageID: img.ID})
}

func (h *Handler) Get(ctx *gin.Context) {
	img, err := h.svc.Get(ctx.Param("id"))
	if err != nil {
		h.abortLookup(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, img)
}

func (h *Handler) Download(ctx *gin.Context) {
	img, obj, err := h.svc.Open(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		h.abortLookup(ctx, err)
		return
	}
	defer obj.Body.Close()

	ctx.Header("ETag", strconv.Quote(img.ETag))
	ctx.DataFromReader(http.StatusOK, obj.Size, img.ContentType, obj.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", img.Name),
	})
}

func (h *Handler) ListAlbum(ctx *gin.Context) {
	albumID := ctx.Param("albumId")
	images, err := h.svc.ListAlbum(albumID)
	if errors.Is(err, ErrInvalidAlbum) {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &AlbumResponse{AlbumID: albumID, Images: images})
}

func (h *Handler) abortBind(ctx *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodePayloadTooLarge,
			fmt.Errorf("upload exceeds %d bytes", maxErr.Limit))
		return
	}
	api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
}

func (h *Handler) abortLookup(ctx *gin.Context, err error) {
	if errors.Is(err, ErrImageNotFound) {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeImageNotFound, err)
		return
	}
	api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeBlobGetFailed, err)
}
