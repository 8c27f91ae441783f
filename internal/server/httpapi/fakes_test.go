package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/logging"
	"github.com/dmitrijs2005/shashinpass/internal/server/auth"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/dmitrijs2005/shashinpass/internal/server/payments"
	"github.com/dmitrijs2005/shashinpass/internal/server/services"
	"github.com/dmitrijs2005/shashinpass/internal/server/storage"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-secret"
	testRecordID = "8b5c3e1a-2f4d-4c61-9a77-0d2e5b6f9c10"
	testTTL      = time.Hour
)

var (
	testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	errBoom = errors.New("boom")
)

type fakeUploads struct {
	uploadBody  []byte
	uploadEmail string
	uploadRes   *services.UploadResult
	uploadErr   error

	preview    *models.DownloadToken
	previewErr error

	photo    *models.Photo
	photoErr error
}

func (f *fakeUploads) Upload(_ context.Context, body []byte, email string) (*services.UploadResult, error) {
	f.uploadBody = body
	f.uploadEmail = email
	return f.uploadRes, f.uploadErr
}

func (f *fakeUploads) MintPreviewToken(_ context.Context, recordID string) (*models.DownloadToken, error) {
	if f.previewErr != nil {
		return nil, f.previewErr
	}
	return f.preview, nil
}

func (f *fakeUploads) GetRecord(_ context.Context, recordID string) (*models.Photo, error) {
	if f.photoErr != nil {
		return nil, f.photoErr
	}
	return f.photo, nil
}

type fakeCheckout struct {
	gotRecordID, gotEmail, gotReturnURL string

	session *models.CheckoutSession
	err     error
}

func (f *fakeCheckout) CreateSession(_ context.Context, recordID, email, returnURL string) (*models.CheckoutSession, error) {
	f.gotRecordID, f.gotEmail, f.gotReturnURL = recordID, email, returnURL
	return f.session, f.err
}

type fakeReconciler struct {
	gotSessionID string
	gotRecordID  string
	calls        int

	result *models.Confirmation
	err    error
}

func (f *fakeReconciler) ConfirmSession(_ context.Context, sessionID string) (*models.Confirmation, error) {
	f.calls++
	f.gotSessionID = sessionID
	return f.result, f.err
}

func (f *fakeReconciler) ConfirmRecord(_ context.Context, recordID string) (*models.Confirmation, error) {
	f.calls++
	f.gotRecordID = recordID
	return f.result, f.err
}

type fakeDownloads struct {
	gotRecordID string
	gotScope    models.Scope
	gotTTL      time.Duration
	gotRaw      string

	token    *models.DownloadToken
	tokenErr error

	object     []byte
	objectType string
	resolveErr error

	presigned  string
	presignErr error
}

func (f *fakeDownloads) RequestToken(_ context.Context, recordID string, scope models.Scope, ttl time.Duration) (*models.DownloadToken, error) {
	f.gotRecordID, f.gotScope, f.gotTTL = recordID, scope, ttl
	return f.token, f.tokenErr
}

func (f *fakeDownloads) ResolveDownload(_ context.Context, raw string) (*storage.Object, *models.DownloadToken, error) {
	f.gotRaw = raw
	if f.resolveErr != nil {
		return nil, nil, f.resolveErr
	}
	return &storage.Object{
		Body:          io.NopCloser(bytes.NewReader(f.object)),
		ContentType:   f.objectType,
		ContentLength: int64(len(f.object)),
	}, f.token, nil
}

func (f *fakeDownloads) PresignDownload(_ context.Context, raw string) (string, error) {
	f.gotRaw = raw
	return f.presigned, f.presignErr
}

type fakeWebhooks struct {
	gotPayload   []byte
	gotSignature string

	event *payments.Event
	err   error
}

func (f *fakeWebhooks) VerifyWebhook(payload []byte, signature string) (*payments.Event, error) {
	f.gotPayload, f.gotSignature = payload, signature
	return f.event, f.err
}

type fixture struct {
	uploads    *fakeUploads
	checkout   *fakeCheckout
	reconciler *fakeReconciler
	downloads  *fakeDownloads
	webhooks   *fakeWebhooks
	handler    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		uploads:    &fakeUploads{},
		checkout:   &fakeCheckout{},
		reconciler: &fakeReconciler{},
		downloads:  &fakeDownloads{},
		webhooks:   &fakeWebhooks{},
	}
	s := NewServer(":0", logging.NewDiscardLogger(), Deps{
		Uploads:     f.uploads,
		Checkout:    f.checkout,
		Reconciler:  f.reconciler,
		Downloads:   f.downloads,
		Webhooks:    f.webhooks,
		SecretKey:   testSecret,
		DownloadTTL: testTTL,
	})
	f.handler = s.Handler()
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func recordToken(t *testing.T, recordID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(recordID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return tok
}

func authed(t *testing.T, method, target string, body io.Reader) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(common.RecordTokenHeaderName, recordToken(t, testRecordID))
	return req
}

func samplePhoto(paid bool) *models.Photo {
	p := &models.Photo{
		ID:         testRecordID,
		Paid:       paid,
		InputRef:   "in/" + testRecordID + ".jpg",
		OutputRef:  "out/" + testRecordID + ".jpg",
		PreviewRef: "preview/" + testRecordID + ".jpg",
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	if paid {
		at := testNow.Add(time.Minute)
		p.PaidAt = &at
	}
	return p
}

func sampleToken(scope models.Scope) *models.DownloadToken {
	return &models.DownloadToken{
		Token:     "abc123",
		RecordID:  testRecordID,
		ObjectKey: "out/" + testRecordID + ".jpg",
		Scope:     scope,
		ExpiresAt: testNow.Add(testTTL),
	}
}
