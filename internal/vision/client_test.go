package vision

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
)

type fakeAPI struct {
	t          *testing.T
	key        *rsa.PrivateKey
	tokenCalls atomic.Int32
	tokenCode  int

	mu       sync.Mutex
	segments [][]byte
	// respond decides the annotate reply for the n-th (0-based) call
	respond func(n int, content []byte) (int, string)

	server *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fakeAPI{t: t, key: key, tokenCode: http.StatusOK}
	f.respond = func(_ int, content []byte) (int, string) {
		return http.StatusOK, textResponse(string(content))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/v1/images:annotate", f.handleAnnotate)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func textResponse(text string) string {
	b, _ := json.Marshal(map[string]any{
		"responses": []any{map[string]any{"fullTextAnnotation": map[string]any{"text": text}}},
	})
	return string(b)
}

func (f *fakeAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	f.tokenCalls.Add(1)
	require.NoError(f.t, r.ParseForm())
	assert.Equal(f.t, jwtBearerGrant, r.PostForm.Get("grant_type"))

	parsed, err := jwt.Parse(r.PostForm.Get("assertion"), func(tok *jwt.Token) (any, error) {
		return &f.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(f.t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(f.t, "ocr@project.iam.gserviceaccount.com", claims["iss"])
	assert.Equal(f.t, DefaultScope, claims["scope"])

	if f.tokenCode != http.StatusOK {
		w.WriteHeader(f.tokenCode)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
}

func (f *fakeAPI) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer tok-123", r.Header.Get("Authorization"))
	var req annotateRequest
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	require.Len(f.t, req.Requests, 1)
	assert.Equal(f.t, featureDocumentText, req.Requests[0].Features[0].Type)
	content, err := base64.StdEncoding.DecodeString(req.Requests[0].Image.Content)
	require.NoError(f.t, err)

	f.mu.Lock()
	n := len(f.segments)
	f.segments = append(f.segments, content)
	f.mu.Unlock()

	code, body := f.respond(n, content)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.segments)
}

func (f *fakeAPI) serviceAccount(t *testing.T) *ServiceAccount {
	t.Helper()
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(f.key)})
	raw, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"private_key_id": "kid-1",
		"private_key":    string(keyPEM),
		"client_email":   "ocr@project.iam.gserviceaccount.com",
		"token_uri":      f.server.URL + "/token",
	})
	require.NoError(t, err)
	sa, err := ParseServiceAccount(raw)
	require.NoError(t, err)
	return sa
}

func (f *fakeAPI) client(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	cfg.Endpoint = f.server.URL
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	opts = append(opts, WithRetryOptions(retry.WithSleep(func(context.Context, time.Duration) error { return nil })))
	c, err := NewClient(cfg, f.serviceAccount(t), opts...)
	require.NoError(t, err)
	return c
}

func TestSegment(t *testing.T) {
	const m = 4
	tests := []struct {
		name string
		size int
		want int
	}{
		{"empty", 0, 0},
		{"exactly max", m, 1},
		{"max plus one", m + 1, 2},
		{"five max plus three", 5*m + 3, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i)
			}
			segs := Segment(data, m)
			require.Len(t, segs, tt.want)
			for _, s := range segs {
				assert.LessOrEqual(t, len(s), m)
			}
			assert.Equal(t, data, bytes.Join(segs, nil)[:tt.size])
		})
	}
}

func TestRecognize_SegmentsLargePayloadInOrder(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t, Config{MaxSegmentBytes: 4})

	data := []byte("abcdefghijklmnopqrstuvw") // 5*4 + 3
	rec, err := c.Recognize(context.Background(), data, "image/png")
	require.NoError(t, err)

	assert.Equal(t, 6, rec.Segments)
	assert.Equal(t, "abcd\nefgh\nijkl\nmnop\nqrst\nuvw", rec.Text)
	assert.True(t, rec.Degraded)
	assert.False(t, rec.NoText)
	assert.Equal(t, int32(1), api.tokenCalls.Load(), "one token per call")

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, data, bytes.Join(api.segments, nil))
}

func TestRecognize_SmallPayloadSingleRequest(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t, Config{})

	rec, err := c.Recognize(context.Background(), []byte("Jane Doe"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", rec.Text)
	assert.Equal(t, 1, api.calls())
	assert.False(t, rec.Degraded)
}

type pages [][]byte

func (p pages) RenderPages(context.Context, []byte) ([][]byte, error) { return p, nil }

func TestRecognize_PDFPerPage(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t, Config{}, WithPageRenderer(pages{[]byte("page one"), []byte("page two"), []byte("page three")}))

	rec, err := c.Recognize(context.Background(), []byte("%PDF-scan"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Pages)
	assert.Equal(t, 3, api.calls())
	assert.Equal(t, "page one\npage two\npage three", rec.Text)
}

func TestRecognize_RetriesOn429And5xx(t *testing.T) {
	api := newFakeAPI(t)
	api.respond = func(n int, content []byte) (int, string) {
		switch n {
		case 0:
			return http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota"}}`
		case 1:
			return http.StatusServiceUnavailable, `{"error":{"code":503,"message":"unavailable"}}`
		default:
			return http.StatusOK, textResponse("ok text")
		}
	}
	c := api.client(t, Config{})

	rec, err := c.Recognize(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "ok text", rec.Text)
	assert.Equal(t, 3, api.calls())
}

func TestRecognize_ExhaustedRetriesIsOCRFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.respond = func(int, []byte) (int, string) {
		return http.StatusInternalServerError, `{"error":{"code":500,"message":"backend"}}`
	}
	c := api.client(t, Config{})

	_, err := c.Recognize(context.Background(), []byte("img"), "image/png")
	require.ErrorIs(t, err, common.ErrOCRFailure)
	var gerr *googleapi.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusInternalServerError, gerr.Code)
	assert.Equal(t, 3, api.calls())
}

func TestRecognize_ClientErrorNotRetried(t *testing.T) {
	api := newFakeAPI(t)
	api.respond = func(int, []byte) (int, string) {
		return http.StatusBadRequest, `{"error":{"code":400,"message":"bad image"}}`
	}
	c := api.client(t, Config{})

	_, err := c.Recognize(context.Background(), []byte("img"), "image/png")
	require.ErrorIs(t, err, common.ErrOCRFailure)
	assert.Equal(t, 1, api.calls())
	assert.Contains(t, err.Error(), "bad image")
}

func TestRecognize_PerImageErrorMapped(t *testing.T) {
	api := newFakeAPI(t)
	api.respond = func(n int, _ []byte) (int, string) {
		if n == 0 {
			return http.StatusOK, `{"responses":[{"error":{"code":14,"message":"try again"}}]}`
		}
		return http.StatusOK, `{"responses":[{"textAnnotations":[{"description":"from annotations"}]}]}`
	}
	c := api.client(t, Config{})

	rec, err := c.Recognize(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "from annotations", rec.Text)
	assert.Equal(t, 2, api.calls())
}

func TestRecognize_NoTextIsNotAnError(t *testing.T) {
	api := newFakeAPI(t)
	api.respond = func(int, []byte) (int, string) { return http.StatusOK, `{"responses":[{}]}` }
	c := api.client(t, Config{})

	rec, err := c.Recognize(context.Background(), []byte("blank"), "image/png")
	require.NoError(t, err)
	assert.True(t, rec.NoText)
	assert.Empty(t, rec.Text)
}

func TestRecognize_TokenFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.tokenCode = http.StatusUnauthorized
	c := api.client(t, Config{})

	_, err := c.Recognize(context.Background(), []byte("img"), "image/png")
	require.ErrorIs(t, err, common.ErrOCRFailure)
	var gerr *googleapi.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusUnauthorized, gerr.Code)
	assert.Equal(t, 0, api.calls())
}

func TestRecognize_CachedTokenReused(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t, Config{CacheTokens: true})

	for i := 0; i < 3; i++ {
		_, err := c.Recognize(context.Background(), []byte(fmt.Sprintf("doc %d", i)), "image/png")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), api.tokenCalls.Load())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&googleapi.Error{Code: 429}))
	assert.True(t, IsRetryable(&googleapi.Error{Code: 502}))
	assert.True(t, IsRetryable(fmt.Errorf("annotate request: %w", fmt.Errorf("connection reset"))))
	assert.False(t, IsRetryable(&googleapi.Error{Code: 403}))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(permanent(fmt.Errorf("decode"))))
	assert.False(t, IsRetryable(nil))
}

func TestParseServiceAccount_Errors(t *testing.T) {
	_, err := ParseServiceAccount([]byte(`{"client_email":"a@b"}`))
	assert.Error(t, err)
	_, err = ParseServiceAccount([]byte(`{"client_email":"a@b","private_key":"not a key"}`))
	assert.Error(t, err)
	_, err = ParseServiceAccount([]byte(`not json`))
	assert.Error(t, err)
}
