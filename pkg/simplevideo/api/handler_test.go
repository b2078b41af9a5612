package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-video/pkg/simplevideo"
	"github.com/tendant/simple-video/pkg/simplevideo/api"
	"github.com/tendant/simple-video/pkg/simplevideo/auth"
	memoryrepo "github.com/tendant/simple-video/pkg/simplevideo/repo/memory"
	memorystorage "github.com/tendant/simple-video/pkg/simplevideo/storage/memory"
)

type fixedProber struct{ seconds float64 }

func (p fixedProber) ProbeDuration(ctx context.Context, source string) (float64, error) {
	return p.seconds, nil
}

type fixture struct {
	router http.Handler
	repo   *memoryrepo.Repository
	store  *memorystorage.Backend
}

func setup(t *testing.T, opts ...api.HandlerOption) *fixture {
	t.Helper()
	repo := memoryrepo.New()
	store := memorystorage.New("media")
	svc, err := simplevideo.New(
		simplevideo.WithRepository(repo),
		simplevideo.WithBlobStore("media", store),
		simplevideo.WithProber(fixedProber{seconds: 42}),
	)
	require.NoError(t, err)
	return &fixture{
		router: api.NewHandler(svc, opts...).Routes(),
		repo:   repo,
		store:  store,
	}
}

func (f *fixture) seed(t *testing.T, key string, status simplevideo.AssetStatus) *simplevideo.VideoAsset {
	t.Helper()
	f.store.Put(key, "video/mp4", []byte("data"))
	uploaded := time.Now().UTC()
	asset, err := f.repo.UpsertAsset(context.Background(), key, simplevideo.AssetPatch{
		Bucket:     strPtr("media"),
		UploadDate: &uploaded,
		Status:     &status,
	})
	require.NoError(t, err)
	return asset
}

func (f *fixture) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func strPtr(s string) *string { return &s }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body simplevideo.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalogRoutes(t *testing.T) {
	f := setup(t)
	ready := f.seed(t, "videos/u1/a.mp4", simplevideo.AssetStatusReady)
	f.seed(t, "videos/u1/b.mp4", simplevideo.AssetStatusError)

	t.Run("List", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/videos", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

		var videos []simplevideo.VideoAsset
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &videos))
		require.Len(t, videos, 1)
		assert.Equal(t, ready.ID, videos[0].ID)
	})

	t.Run("Get", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/videos/"+ready.ID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var video simplevideo.VideoAsset
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &video))
		assert.Equal(t, "videos/u1/a.mp4", video.Key)
	})

	t.Run("GetMissing", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/videos/missing", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Video not found", decodeError(t, rec))
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/videos/"+ready.ID, "{}", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "Method not allowed", decodeError(t, rec))
	})

	t.Run("Delete", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/videos/"+ready.ID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Video deleted", body["message"])
		assert.Equal(t, ready.ID, body["id"])
		assert.False(t, f.store.Has("videos/u1/a.mp4"))
		assert.Equal(t, 1, f.repo.Len())

		rec = f.do(t, http.MethodDelete, "/videos/"+ready.ID, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Preflight", func(t *testing.T) {
		rec := f.do(t, http.MethodOptions, "/videos", "", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	})
}

func TestInvoke(t *testing.T) {
	f := setup(t)

	t.Run("Malformed", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/events", "{not json", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request", decodeError(t, rec))
	})

	t.Run("Empty", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/events", "{}", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("StorageBatch", func(t *testing.T) {
		f.store.Put("videos/u2/My+Clip.mp4", "video/mp4", []byte("0123456789"))
		payload := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media"},"object":{"key":"videos/u2/My%2BClip.mp4","size":10}}},
			{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media"},"object":{"key":"images/cover.png","size":3}}}]}`
		rec := f.do(t, http.MethodPost, "/events", payload, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var result simplevideo.BatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "Processed S3 events successfully", result.Message)
		require.Len(t, result.Results, 1)

		asset, err := f.repo.GetAssetByKey(context.Background(), "videos/u2/My+Clip.mp4")
		require.NoError(t, err)
		assert.Equal(t, simplevideo.AssetStatusReady, asset.Status)
		require.NotNil(t, asset.Duration)
		assert.Equal(t, 42.0, *asset.Duration)
		assert.Equal(t, int64(10), asset.Size)
	})

	t.Run("BatchWithFailure", func(t *testing.T) {
		payload := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media"},"object":{"key":"videos/u2/gone.mp4"}}}]}`
		rec := f.do(t, http.MethodPost, "/events", payload, nil)
		require.Equal(t, http.StatusMultiStatus, rec.Code)

		var result simplevideo.BatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "Processed S3 events with errors", result.Message)
		require.Len(t, result.Results, 1)
		assert.NotEmpty(t, result.Results[0].Error)
	})

	t.Run("DirectRequest", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/events", `{"method":"GET","path":"/videos"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var videos []simplevideo.VideoAsset
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &videos))
		assert.Len(t, videos, 1)
	})

	t.Run("DirectRequestUnsupportedMethod", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/events", `{"method":"PATCH","path":"/videos/x"}`, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRequestUpload(t *testing.T) {
	verifier, err := auth.NewHMACVerifier("s3cret")
	require.NoError(t, err)
	f := setup(t, api.WithVerifier(verifier))

	t.Run("NoToken", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/videos/uploads", `{"fileName":"clip.mp4"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "No authorization token provided", decodeError(t, rec))
	})

	token, err := verifier.Sign("user-1", time.Hour)
	require.NoError(t, err)
	header := map[string]string{"Authorization": "Bearer " + token}

	t.Run("Issued", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/videos/uploads", `{"owner":"someone-else","fileName":"clip.mp4"}`, header)
		require.Equal(t, http.StatusCreated, rec.Code)

		var ticket simplevideo.UploadTicket
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
		assert.True(t, strings.HasPrefix(ticket.Key, "videos/user-1/"), ticket.Key)
		assert.True(t, strings.HasSuffix(ticket.Key, "-clip.mp4"), ticket.Key)
		assert.Equal(t, "memory://media/"+ticket.Key, ticket.UploadURL)
		assert.Equal(t, 0, f.repo.Len())
	})

	t.Run("NotAVideo", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/videos/uploads", `{"fileName":"notes.txt"}`, header)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("CatalogRequiresToken", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/videos", "", map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid token", decodeError(t, rec))
	})
}

func TestInvoke_DirectRequestsRequireToken(t *testing.T) {
	verifier, err := auth.NewHMACVerifier("s3cret")
	require.NoError(t, err)
	f := setup(t, api.WithVerifier(verifier))
	asset := f.seed(t, "videos/u1/keep.mp4", simplevideo.AssetStatusReady)
	remove := `{"method":"DELETE","path":"/videos/` + asset.ID.String() + `","pathIdentifier":"` + asset.ID.String() + `"}`

	t.Run("DeleteWithoutToken", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/events", remove, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "No authorization token provided", decodeError(t, rec))
		assert.Equal(t, 1, f.repo.Len())
	})

	t.Run("ListWithBadToken", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/events", `{"method":"GET","path":"/videos"}`, map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid token", decodeError(t, rec))
	})

	t.Run("BatchWithoutToken", func(t *testing.T) {
		f.store.Put("videos/u1/new.mp4", "video/mp4", []byte("data"))
		payload := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media"},"object":{"key":"videos/u1/new.mp4","size":4}}}]}`
		rec := f.do(t, http.MethodPost, "/events", payload, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ListWithToken", func(t *testing.T) {
		token, err := verifier.Sign("admin", time.Hour)
		require.NoError(t, err)
		rec := f.do(t, http.MethodPost, "/events", `{"method":"GET","path":"/videos"}`, map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusOK, rec.Code)

		var videos []simplevideo.VideoAsset
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &videos))
		assert.Len(t, videos, 2)
	})
}

func TestInvoke_EventsSecret(t *testing.T) {
	f := setup(t, api.WithEventsSecret("hook-key"))
	f.store.Put("videos/u1/clip.mp4", "video/mp4", []byte("data"))
	payload := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media"},"object":{"key":"videos/u1/clip.mp4","size":4}}}]}`

	rec := f.do(t, http.MethodPost, "/events", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid shared secret", decodeError(t, rec))

	rec = f.do(t, http.MethodPost, "/events", payload, map[string]string{auth.SecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.repo.Len())

	rec = f.do(t, http.MethodPost, "/events", payload, map[string]string{auth.SecretHeader: "hook-key"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.repo.Len())
}

func TestInvoke_BatchOutlivesCancelledRequest(t *testing.T) {
	f := setup(t)
	f.store.Put("videos/u1/clip.mp4", "video/mp4", []byte("data"))
	payload := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media"},"object":{"key":"videos/u1/clip.mp4","size":4}}}]}`

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(payload)).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	asset, err := f.repo.GetAssetByKey(context.Background(), "videos/u1/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, simplevideo.AssetStatusReady, asset.Status)
}
