package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/stripe-gateway/internal/audit"
	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_mw"

func runVerify(t *testing.T, body, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	v := webhook.NewVerifier(map[string]string{"app": testSecret}, 5*time.Minute)

	nextCalled := false
	next := func(c echo.Context) error {
		nextCalled = true
		// the body must be restored for the handler
		b, err := io.ReadAll(c.Request().Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(b))
		return c.NoContent(http.StatusNoContent)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/app", strings.NewReader(body))
	if header != "" {
		req.Header.Set(webhook.SignatureHeader, header)
	}
	rec := httptest.NewRecorder()

	mw := VerifySignature(v, "app", nil)
	require.NoError(t, mw(next)(e.NewContext(req, rec)))
	return rec, nextCalled
}

func TestVerifySignaturePasses(t *testing.T) {
	body := `{"id":"evt_1","object":"event"}`
	header := webhook.SignPayload([]byte(body), testSecret, time.Now())

	rec, nextCalled := runVerify(t, body, header)
	assert.True(t, nextCalled)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVerifySignatureMissingHeader(t *testing.T) {
	rec, nextCalled := runVerify(t, `{"id":"evt_1","object":"event"}`, "")
	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "signature verification failed")
}

func TestVerifySignatureTamperedHeader(t *testing.T) {
	body := `{"id":"evt_1","object":"event"}`
	header := webhook.SignPayload([]byte(body), testSecret, time.Now())
	tampered := strings.Replace(header, "v1=", "v1=00", 1)

	rec, nextCalled := runVerify(t, body, tampered)
	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	body := `{"id":"evt_1","object":"event"}`
	header := webhook.SignPayload([]byte(body), testSecret, time.Now().Add(-time.Hour))

	rec, nextCalled := runVerify(t, body, header)
	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type captureAuditRepo struct {
	mu   sync.Mutex
	rows []model.AuditRecord
}

func (c *captureAuditRepo) InsertBatch(ctx context.Context, rows []model.AuditRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rows...)
	return nil
}

func (c *captureAuditRepo) List(ctx context.Context, kind model.AuditKind, eventID string, limit, offset int) ([]model.AuditRecord, error) {
	return nil, nil
}

func TestVerifySignatureFailureRecordsAudit(t *testing.T) {
	v := webhook.NewVerifier(map[string]string{"app": testSecret}, 5*time.Minute)
	repo := &captureAuditRepo{}
	sink := audit.NewWriter(repo)

	body := `{"id":"evt_1","object":"event"}`
	header := webhook.SignPayload([]byte(body), "whsec_wrong", time.Now())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/app", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, header)
	rec := httptest.NewRecorder()

	next := func(c echo.Context) error {
		t.Fatal("next must not run on signature failure")
		return nil
	}
	mw := VerifySignature(v, "app", sink)
	require.NoError(t, mw(next)(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// drain the buffered record
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Run(ctx)

	require.Len(t, repo.rows, 1)
	row := repo.rows[0]
	assert.Equal(t, model.AuditSignatureRejected, row.Kind)
	assert.Empty(t, row.EventID, "payload is never parsed on rejection")
	assert.Contains(t, row.Detail, "secret=app")
	assert.Contains(t, row.Detail, header)
	assert.NotContains(t, row.Detail, testSecret, "detail must never carry the secret value")
}
