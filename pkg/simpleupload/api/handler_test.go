package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/auth"
	memindex "github.com/tendant/simple-upload/pkg/simpleupload/index/memory"
	"github.com/tendant/simple-upload/pkg/simpleupload/notify"
	memstore "github.com/tendant/simple-upload/pkg/simpleupload/storage/memory"
)

type testEnv struct {
	server   *httptest.Server
	store    *memstore.Backend
	index    *memindex.Index
	registry *prometheus.Registry

	mu     sync.Mutex
	events []simpleupload.Event
	live   notify.Sink
}

func (e *testEnv) published() []simpleupload.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]simpleupload.Event(nil), e.events...)
}

func newTestEnv(t *testing.T, store simpleupload.BlobStore, opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{index: memindex.New(), registry: prometheus.NewRegistry()}
	if store == nil {
		env.store = memstore.New()
		store = env.store
	}

	svc, err := simpleupload.New(
		simpleupload.WithIndex(env.index),
		simpleupload.WithBlobStore("test", store),
		simpleupload.WithNotifier(simpleupload.NotifierFunc(func(ctx context.Context, event simpleupload.Event) {
			env.mu.Lock()
			defer env.mu.Unlock()
			env.events = append(env.events, event)
			if env.live != nil {
				_ = env.live.Deliver(ctx, event)
			}
		})),
	)
	require.NoError(t, err)

	opts = append([]Option{WithRegistry(env.registry)}, opts...)
	env.server = httptest.NewServer(NewHandler(svc, opts...).Routes())
	t.Cleanup(env.server.Close)
	return env
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	require.NoError(t, mw.WriteField("comment", "ignored"))

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename)}
	if contentType != "" {
		header["Content-Type"] = []string{contentType}
	}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, env *testEnv, filename string, data []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, "", data)
	resp, err := http.Post(env.server.URL+"/upload", contentType, body)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestUpload_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := upload(t, env, "Quarterly Report.pdf", []byte("%PDF-1.4 test"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var record map[string]any
	decodeJSON(t, resp, &record)
	assert.Equal(t, "Quarterly Report.pdf", record["originalName"])
	storedKey, _ := record["storedKey"].(string)
	assert.True(t, strings.HasSuffix(storedKey, "-Quarterly_Report.pdf"), storedKey)
	assert.Equal(t, "memory://"+storedKey, record["location"])
	assert.NotEmpty(t, record["receivedAt"])
	assert.EqualValues(t, len("%PDF-1.4 test"), record["size"])
	assert.Equal(t, "application/pdf", record["contentType"])

	events := env.published()
	require.Len(t, events, 1)
	assert.Equal(t, simpleupload.EventFileUploaded, events[0].Type)
	assert.Equal(t, storedKey, events[0].StoredKey)
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := upload(t, env, "setup.exe", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, "unsupported_type", body.Error.Code)
	assert.Equal(t, 0, env.store.Len())
	assert.Equal(t, 0, env.index.Len())
	assert.Empty(t, env.published())
}

func TestUpload_MissingFile(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("WrongField", func(t *testing.T) {
		body, contentType := multipartBody(t, "attachment", "a.pdf", "", []byte("x"))
		resp, err := http.Post(env.server.URL+"/upload", contentType, body)
		require.NoError(t, err)

		var errBody ErrorResponse
		decodeJSON(t, resp, &errBody)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "missing_file", errBody.Error.Code)
	})

	t.Run("NotMultipart", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/upload", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	assert.Equal(t, 0, env.index.Len())
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t, nil, WithMaxUploadBytes(1024))

	resp := upload(t, env, "big.csv", bytes.Repeat([]byte("a,b\n"), 4096))
	var body ErrorResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "too_large", body.Error.Code)
	assert.Equal(t, 0, env.index.Len())
}

type failingStore struct{}

func (failingStore) Write(ctx context.Context, key string, r io.Reader, p simpleupload.WriteParams) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("bucket unavailable")
}

func TestUpload_StorageFailure(t *testing.T) {
	env := newTestEnv(t, failingStore{})

	resp := upload(t, env, "a.csv", []byte("1,2"))
	var body ErrorResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal_error", body.Error.Code)
	assert.NotContains(t, body.Error.Message, "bucket unavailable")

	listResp, err := http.Get(env.server.URL + "/files")
	require.NoError(t, err)
	var records []simpleupload.UploadRecord
	decodeJSON(t, listResp, &records)
	assert.Empty(t, records)
}

func TestListFiles(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/files")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var empty []simpleupload.UploadRecord
	decodeJSON(t, resp, &empty)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	names := []string{"one.pdf", "two.docx", "three.xlsx"}
	for _, name := range names {
		r := upload(t, env, name, []byte(name))
		r.Body.Close()
		require.Equal(t, http.StatusOK, r.StatusCode)
	}

	resp, err = http.Get(env.server.URL + "/files")
	require.NoError(t, err)
	var records []simpleupload.UploadRecord
	decodeJSON(t, resp, &records)
	require.Len(t, records, 3)
	assert.Equal(t, "three.xlsx", records[0].OriginalName)
	assert.Equal(t, "one.pdf", records[2].OriginalName)
	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].ReceivedAt.After(records[i-1].ReceivedAt))
	}
}

func TestListFiles_Gzip(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 20; i++ {
		r := upload(t, env, fmt.Sprintf("sheet-%d.csv", i), []byte("a,b"))
		r.Body.Close()
	}

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/files", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestGetFile(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := upload(t, env, "memo.doc", []byte("memo"))
	var created simpleupload.UploadRecord
	decodeJSON(t, resp, &created)

	resp, err := http.Get(env.server.URL + "/files/" + created.StoredKey)
	require.NoError(t, err)
	var got simpleupload.UploadRecord
	decodeJSON(t, resp, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.StoredKey, got.StoredKey)

	resp, err = http.Get(env.server.URL + "/files/unknown.pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownload_Streams(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := upload(t, env, "data.csv", []byte("a,b\n1,2\n"))
	var created simpleupload.UploadRecord
	decodeJSON(t, resp, &created)

	resp, err := http.Get(env.server.URL + "/download/" + created.StoredKey)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename=data.csv`)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))
}

type cdnStore struct{}

func (cdnStore) Write(ctx context.Context, key string, r io.Reader, p simpleupload.WriteParams) (string, error) {
	_, _ = io.Copy(io.Discard, r)
	return "https://cdn.example.com/" + key, nil
}

func (cdnStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not used")
}

func TestDownload_RedirectsToLocation(t *testing.T) {
	env := newTestEnv(t, cdnStore{})

	resp := upload(t, env, "photo.pdf", []byte("x"))
	var created simpleupload.UploadRecord
	decodeJSON(t, resp, &created)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(env.server.URL + "/download/" + created.StoredKey)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://cdn.example.com/"+created.StoredKey, resp.Header.Get("Location"))
}

func TestDownload_RejectsTraversal(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{
		"/download/..%2F..%2Fetc%2Fpasswd",
		"/download/..",
		"/download/..%5Cwindows",
	} {
		resp, err := http.Get(env.server.URL + path)
		require.NoError(t, err, path)
		var body ErrorResponse
		decodeJSON(t, resp, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, "invalid_key", body.Error.Code, path)
	}
}

func TestDownload_Unknown(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/download/1700000000000-1-nothing.pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	events := env.published()
	require.Len(t, events, 1)
	assert.Equal(t, simpleupload.EventPing, events[0].Type)
}

func TestAuthGate(t *testing.T) {
	gate, err := auth.NewGate("secret", nil)
	require.NoError(t, err)
	env := newTestEnv(t, nil, WithAuthGate(gate))

	resp, err := http.Get(env.server.URL + "/files")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = upload(t, env, "a.pdf", []byte("x"))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.store.Len())

	token, err := gate.IssueToken("tester", time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/files", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The liveness probe stays open
	resp, err = http.Get(env.server.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func newLiveEnv(t *testing.T, opts ...Option) (*testEnv, *notify.Hub) {
	t.Helper()
	hub := notify.NewHub(notify.HubConfig{})
	t.Cleanup(hub.Close)

	env := newTestEnv(t, nil, append(opts, WithLiveUpdates(hub))...)
	env.mu.Lock()
	env.live = hub
	env.mu.Unlock()
	return env, hub
}

func dialLive(t *testing.T, env *testEnv, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readUploadedEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestLiveUpdates(t *testing.T) {
	env, hub := newLiveEnv(t)

	conn, _, err := dialLive(t, env, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	resp := upload(t, env, "minutes.docx", []byte("PK\x03\x04 docx"))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	event := readUploadedEvent(t, conn)
	assert.Equal(t, "file.uploaded", event["type"])
	assert.Equal(t, "minutes.docx", event["originalName"])
	storedKey, _ := event["storedKey"].(string)
	assert.True(t, strings.HasSuffix(storedKey, "-minutes.docx"), storedKey)
}

func TestLiveUpdates_AuthGate(t *testing.T) {
	gate, err := auth.NewGate("secret", nil)
	require.NoError(t, err)
	env, hub := newLiveEnv(t, WithAuthGate(gate))

	_, resp, err := dialLive(t, env, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialLive(t, env, "?jwt=not-a-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())

	token, err := gate.IssueToken("viewer", time.Minute)
	require.NoError(t, err)
	conn, _, err := dialLive(t, env, "?jwt="+token)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	body, contentType := multipartBody(t, "file", "ledger.csv", "", []byte("a,b\n1,2\n"))
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/upload", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	event := readUploadedEvent(t, conn)
	assert.Equal(t, "file.uploaded", event["type"])
	assert.Equal(t, "ledger.csv", event["originalName"])
}

func TestConcurrentUploads(t *testing.T) {
	env := newTestEnv(t, nil)

	const n = 50
	bodies := make([]*bytes.Buffer, n)
	contentTypes := make([]string, n)
	for i := 0; i < n; i++ {
		bodies[i], contentTypes[i] = multipartBody(t, "file", fmt.Sprintf("file-%02d.csv", i), "text/csv", []byte("x"))
	}

	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(env.server.URL+"/upload", contentTypes[i], bodies[i])
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, status := range statuses {
		assert.Equal(t, http.StatusOK, status, "upload %d", i)
	}

	resp, err := http.Get(env.server.URL + "/files")
	require.NoError(t, err)
	var records []simpleupload.UploadRecord
	decodeJSON(t, resp, &records)
	require.Len(t, records, n)

	seen := make(map[string]bool)
	for _, r := range records {
		assert.False(t, seen[r.StoredKey], "duplicate key %s", r.StoredKey)
		seen[r.StoredKey] = true
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	r := upload(t, env, "a.pdf", []byte("x"))
	r.Body.Close()
	r = upload(t, env, "a.exe", []byte("x"))
	r.Body.Close()

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(body), `simpleupload_intake_total{result="accepted"} 1`)
	assert.Contains(t, string(body), `simpleupload_intake_total{result="unsupported_type"} 1`)
	assert.Contains(t, string(body), `simpleupload_http_requests_total{code="200",route="/upload"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil, WithAllowedOrigins([]string{"https://app.example.com"}))

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/upload", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{simpleupload.ErrMissingFile, http.StatusBadRequest},
		{fmt.Errorf("%w: %q", simpleupload.ErrUnsupportedType, ".exe"), http.StatusBadRequest},
		{simpleupload.ErrInvalidKey, http.StatusBadRequest},
		{fmt.Errorf("find: %w", simpleupload.ErrNotFound), http.StatusNotFound},
		{simpleupload.ErrUnauthorized, http.StatusUnauthorized},
		{&simpleupload.StorageError{Op: "open", Err: simpleupload.ErrBlobNotFound}, http.StatusInternalServerError},
		{&simpleupload.IndexWriteError{Key: "k", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
