package images

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/openmined/photoqueue/internal/db"
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/server/blob"
	"github.com/openmined/photoqueue/internal/server/handlers/api"
	"github.com/openmined/photoqueue/internal/server/middlewares"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router  *gin.Engine
	svc     *Service
	index   *Index
	backend *blob.MemoryBackend
}

func newFixture(t *testing.T, tokenAlbum string) *fixture {
	t.Helper()
	database, err := db.NewSqliteDB(db.WithMaxOpenConns(1), db.WithSchema(SchemaSQL))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	index, err := NewIndex(database)
	require.NoError(t, err)
	backend := blob.NewMemoryBackend()
	svc := NewService(backend, index)
	h := NewHandler(svc, 1<<20)

	r := gin.New()
	r.Use(func(ctx *gin.Context) {
		ctx.Set(middlewares.SubjectContextKey, "camera-01")
		if tokenAlbum != "" {
			ctx.Set(middlewares.AlbumContextKey, tokenAlbum)
		}
	})
	r.POST("/api/v1/images/upload", h.Upload)
	r.GET("/api/v1/images/:id", h.Get)
	r.GET("/api/v1/images/:id/content", h.Download)
	r.GET("/api/v1/albums/:albumId/images", h.ListAlbum)

	return &fixture{router: r, svc: svc, index: index, backend: backend}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))))
	return buf.Bytes()
}

type uploadForm struct {
	file      []byte
	name      string
	album     string
	sortOrder int
	metadata  string
	batch     string
}

func (f *fixture) upload(t *testing.T, form uploadForm) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("albumId", form.album))
	require.NoError(t, mw.WriteField("sortOrder", strconv.Itoa(form.sortOrder)))
	if form.metadata != "" {
		require.NoError(t, mw.WriteField("metadata", form.metadata))
	}
	if form.file != nil {
		fw, err := mw.CreateFormFile("file", form.name)
		require.NoError(t, err)
		_, err = fw.Write(form.file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if form.batch != "" {
		req.Header.Set(HeaderBatchID, form.batch)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) api.APIError {
	t.Helper()
	var e api.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestUpload_StoresAndIndexes(t *testing.T) {
	f := newFixture(t, "")
	data := pngBytes(t)

	w := f.upload(t, uploadForm{
		file:      data,
		name:      "IMG_0001.png",
		album:     "holiday",
		sortOrder: 2,
		metadata:  `{"caption":"beach","tags":["Sea"," sun "],"latitude":1.5,"longitude":2.5}`,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ImageID)

	img, err := f.index.Get(resp.ImageID)
	require.NoError(t, err)
	assert.Equal(t, "holiday", img.AlbumID)
	assert.Equal(t, 2, img.SortOrder)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "IMG_0001.png", img.Name)
	assert.Equal(t, "camera-01", img.Uploader)
	assert.Equal(t, "holiday/"+resp.ImageID+".png", img.Key)
	assert.Equal(t, "beach", img.Metadata.Caption)
	assert.Equal(t, []string{"sea", "sun"}, img.Metadata.Tags)

	obj, err := f.backend.GetObject(context.Background(), img.Key)
	require.NoError(t, err)
	stored, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	w = f.get("/api/v1/images/" + resp.ImageID)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched Image
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, resp.ImageID, fetched.ID)
	assert.Equal(t, "beach", fetched.Metadata.Caption)

	w = f.get("/api/v1/images/" + resp.ImageID + "/content")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, data, w.Body.Bytes())
}

func TestUpload_DefaultAlbumAndReplay(t *testing.T) {
	f := newFixture(t, "")
	form := uploadForm{file: pngBytes(t), name: "a.png", batch: "batch-1", sortOrder: 0}

	w := f.upload(t, form)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	img, err := f.index.Get(first.ImageID)
	require.NoError(t, err)
	assert.Equal(t, DefaultAlbum, img.AlbumID)

	// a retried attempt for the same batch position is not stored twice
	w = f.upload(t, form)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.ImageID, second.ImageID)
	assert.Equal(t, 1, f.index.Count())
}

func TestUpload_Rejects(t *testing.T) {
	f := newFixture(t, "")

	w := f.upload(t, uploadForm{file: []byte("plain text pretending"), name: "fake.png"})
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, api.CodeUnsupportedMedia, decodeAPIError(t, w).Code)

	w = f.upload(t, uploadForm{name: "none.png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.CodeInvalidRequest, decodeAPIError(t, w).Code)

	w = f.upload(t, uploadForm{file: pngBytes(t), name: "a.png", metadata: `{"latitude":1}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeAPIError(t, w).Message, "latitude and longitude")

	w = f.upload(t, uploadForm{file: pngBytes(t), name: "a.png", metadata: `{not json`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.upload(t, uploadForm{file: pngBytes(t), name: "a.png", album: "../etc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.upload(t, uploadForm{file: pngBytes(t), name: "a.png", sortOrder: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, f.index.Count())
}

func TestUpload_TokenAlbumScope(t *testing.T) {
	f := newFixture(t, "wedding")

	w := f.upload(t, uploadForm{file: pngBytes(t), name: "a.png", album: "holiday"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, api.CodeAccessDenied, decodeAPIError(t, w).Code)

	w = f.upload(t, uploadForm{file: pngBytes(t), name: "a.png"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	img, err := f.index.Get(resp.ImageID)
	require.NoError(t, err)
	assert.Equal(t, "wedding", img.AlbumID)
}

func TestListAlbum_OrderedBySortOrder(t *testing.T) {
	f := newFixture(t, "")
	for _, order := range []int{3, 0, 2, 1} {
		w := f.upload(t, uploadForm{
			file:      pngBytes(t),
			name:      "img-" + strconv.Itoa(order) + ".png",
			album:     "trip",
			sortOrder: order,
			batch:     "b",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := f.upload(t, uploadForm{file: pngBytes(t), name: "other.png", album: "elsewhere"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.get("/api/v1/albums/trip/images")
	require.Equal(t, http.StatusOK, w.Code)
	var resp AlbumResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Images, 4)
	for i, img := range resp.Images {
		assert.Equal(t, i, img.SortOrder)
		assert.Equal(t, "img-"+strconv.Itoa(i)+".png", img.Name)
	}

	w = f.get("/api/v1/albums/empty/images")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Images)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t, "")
	w := f.get("/api/v1/images/does-not-exist")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, api.CodeImageNotFound, decodeAPIError(t, w).Code)

	w = f.get("/api/v1/images/does-not-exist/content")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestService_StoreFailsWhenIndexUnavailable(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, _, err := f.svc.Store(ctx, &StoreParams{AlbumID: "a", Name: "x.png", Size: 3, ContentType: "image/png", Extension: ".png", Body: bytes.NewReader([]byte("abc"))})
	require.NoError(t, err)

	// the blob is written first, then the insert fails and the blob is removed again
	require.NoError(t, f.index.db.Close())
	_, _, err = f.svc.Store(ctx, &StoreParams{AlbumID: "a", Name: "y.png", Size: 3, ContentType: "image/png", Extension: ".png", Body: bytes.NewReader([]byte("def")), Metadata: photo.Metadata{Caption: "c"}})
	require.Error(t, err)
}
