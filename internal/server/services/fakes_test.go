package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/dbx"
	"github.com/dmitrijs2005/shashinpass/internal/logging"
	"github.com/dmitrijs2005/shashinpass/internal/server/config"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/dmitrijs2005/shashinpass/internal/server/notify"
	"github.com/dmitrijs2005/shashinpass/internal/server/payments"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/downloadtokens"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/photos"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/shashinpass/internal/server/storage"
	"github.com/dmitrijs2005/shashinpass/internal/server/transform"
)

const testRecordID = "6f1c2b1e-3a4d-4e5f-8a9b-0c1d2e3f4a5b"

// -------- test fakes --------

type fakePhotosRepo struct {
	mu     sync.Mutex
	photos map[string]models.Photo

	// staleReads makes that many Get calls after a flip still report unpaid.
	staleReads int
	flips      int
	getCalls   int

	createErr error
	getErr    error
	markErr   error
}

func newFakePhotos(ps ...models.Photo) *fakePhotosRepo {
	f := &fakePhotosRepo{photos: make(map[string]models.Photo)}
	for _, p := range ps {
		f.photos[p.ID] = p
	}
	return f
}

func (f *fakePhotosRepo) Create(ctx context.Context, p *models.Photo) (*models.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.photos[p.ID] = *p
	out := *p
	return &out, nil
}

func (f *fakePhotosRepo) Get(ctx context.Context, id string) (*models.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.photos[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if p.Paid && f.staleReads > 0 {
		f.staleReads--
		p.Paid = false
		p.PaidAt = nil
	}
	return &p, nil
}

func (f *fakePhotosRepo) SetOutput(ctx context.Context, id, outputRef, previewRef string, fallback bool) (*models.Photo, error) {
	f.mu.Lock()
	p, ok := f.photos[id]
	if !ok {
		f.mu.Unlock()
		return nil, common.ErrorNotFound
	}
	if p.OutputRef == "" {
		p.OutputRef, p.PreviewRef, p.TransformFallback = outputRef, previewRef, fallback
		f.photos[id] = p
	}
	f.mu.Unlock()
	return f.Get(ctx, id)
}

func (f *fakePhotosRepo) MarkPaid(ctx context.Context, id, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return false, f.markErr
	}
	p, ok := f.photos[id]
	if !ok {
		return false, common.ErrorNotFound
	}
	if p.Paid {
		return false, nil
	}
	now := time.Now()
	p.Paid, p.PaidAt = true, &now
	if p.ContactEmail == "" {
		p.ContactEmail = email
	}
	f.photos[id] = p
	f.flips++
	return true, nil
}

func (f *fakePhotosRepo) AttachCheckout(ctx context.Context, id, prevSessionID, sessionID, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.photos[id]
	if !ok {
		return false, common.ErrorNotFound
	}
	if p.Paid || p.CheckoutSessionID != prevSessionID {
		return false, nil
	}
	p.CheckoutSessionID = sessionID
	if email != "" {
		p.ContactEmail = email
	}
	f.photos[id] = p
	return true, nil
}

func (f *fakePhotosRepo) snapshot(id string) models.Photo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.photos[id]
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	p *fakePhotosRepo
	t *downloadtokens.MemoryRepository
}

func (m *fakeRepoManager) Photos(dbx.DBTX) photos.Repository                 { return m.p }
func (m *fakeRepoManager) DownloadTokens(dbx.DBTX) downloadtokens.Repository { return m.t }

type storedObject struct {
	body        []byte
	contentType string
}

type fakeStore struct {
	mu         sync.Mutex
	objects    map[string]storedObject
	presignTTL time.Duration
	copies     [][2]string
	putErr     error
	copyErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]storedObject)}
}

func (s *fakeStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = storedObject{body: append([]byte(nil), body...), contentType: contentType}
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, common.ErrorNotFound)
	}
	return &storage.Object{
		Body:          io.NopCloser(bytes.NewReader(o.body)),
		ContentType:   o.contentType,
		ContentLength: int64(len(o.body)),
	}, nil
}

func (s *fakeStore) Copy(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.copyErr != nil {
		return s.copyErr
	}
	o, ok := s.objects[src]
	if !ok {
		return common.ErrorNotFound
	}
	s.objects[dst] = o
	s.copies = append(s.copies, [2]string{src, dst})
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presignTTL = ttl
	return "https://s3.test/" + key, nil
}

func (s *fakeStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return "https://s3.test/" + key + "?put", nil
}

func (s *fakeStore) body(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.objects[key].body)
}

// fakeInvoker plays the AI service: on success it writes both targets.
type fakeInvoker struct {
	store *fakeStore
	err   error
	calls []transform.Request
}

func (f *fakeInvoker) Transform(ctx context.Context, req transform.Request) error {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return f.err
	}
	_ = f.store.Put(ctx, keyFromURL(req.OutputURL), []byte("reframed"), "image/jpeg")
	_ = f.store.Put(ctx, keyFromURL(req.PreviewURL), []byte("watermarked"), "image/jpeg")
	return nil
}

func keyFromURL(u string) string {
	const prefix, suffix = "https://s3.test/", "?put"
	u = u[len(prefix):]
	return u[:len(u)-len(suffix)]
}

type fakeProvider struct {
	mu        sync.Mutex
	sessions  map[string]*models.CheckoutSession
	created   []models.CheckoutRequest
	expired   []string
	priceErr  error
	getErr    error
	expireErr error
	getCalls  int
	nextID    int
	// afterCreate runs once a session exists, before the caller sees it.
	afterCreate func(s models.CheckoutSession)
	// beforeExpire runs ahead of every expire attempt.
	beforeExpire func(id string)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sessions: make(map[string]*models.CheckoutSession)}
}

func (p *fakeProvider) CreateSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	p.mu.Lock()
	p.nextID++
	s := &models.CheckoutSession{
		ID:            fmt.Sprintf("cs_test_%d", p.nextID),
		RecordID:      req.RecordID,
		Status:        models.SessionOpen,
		PaymentStatus: models.PaymentUnpaid,
		URL:           "https://checkout.test/" + req.RecordID,
	}
	p.sessions[s.ID] = s
	p.created = append(p.created, req)
	out := *s
	hook := p.afterCreate
	p.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return &out, nil
}

// ExpireSession mirrors Stripe: only open sessions can be expired.
func (p *fakeProvider) ExpireSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	if p.beforeExpire != nil {
		p.beforeExpire(id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.expireErr != nil {
		return nil, p.expireErr
	}
	s, ok := p.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if s.Status != models.SessionOpen {
		return nil, fmt.Errorf("payment provider error: session %s is %s", id, s.Status)
	}
	s.Status = models.SessionExpired
	p.expired = append(p.expired, id)
	out := *s
	return &out, nil
}

func (p *fakeProvider) session(id string) models.CheckoutSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.sessions[id]
}

func (p *fakeProvider) openSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.sessions {
		if s.Status == models.SessionOpen {
			n++
		}
	}
	return n
}

func (p *fakeProvider) GetSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if p.getErr != nil {
		return nil, p.getErr
	}
	s, ok := p.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *s
	return &out, nil
}

func (p *fakeProvider) ValidatePrice(ctx context.Context, priceID string) error {
	if priceID == "" {
		return fmt.Errorf("%w: price id is not set", common.ErrConfiguration)
	}
	return p.priceErr
}

func (p *fakeProvider) VerifyWebhook(payload []byte, signature string) (*payments.Event, error) {
	return nil, common.ErrorUnauthorized
}

func (p *fakeProvider) pay(id, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[id]
	s.Status = models.SessionComplete
	s.PaymentStatus = models.PaymentPaid
	s.PayerEmail = email
}

func (p *fakeProvider) add(s models.CheckoutSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = &s
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Confirmation
	err  error
}

func (m *fakeMailer) SendConfirmation(ctx context.Context, c notify.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, c)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// -------- helpers --------

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StripePriceID = "price_test"
	cfg.PublicBaseURL = "https://shashin.test/"
	cfg.RetryDelay = time.Millisecond
	cfg.RetryDeferredDelay = 2 * time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

// newTxDB returns a sqlmock DB that accepts up to n transactions in any
// order; the fake repositories never touch it.
func newTxDB(t *testing.T, n int) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	cfg       *config.Config
	photos    *fakePhotosRepo
	tokens    *downloadtokens.MemoryRepository
	store     *fakeStore
	invoker   *fakeInvoker
	provider  *fakeProvider
	mailer    *fakeMailer
	downloads *DownloadService
	checkout  *CheckoutService
	reconcile *ReconcileService
	uploads   *UploadService
}

func newFixture(t *testing.T, ps ...models.Photo) *fixture {
	t.Helper()
	f := &fixture{
		cfg:      testConfig(),
		photos:   newFakePhotos(ps...),
		tokens:   downloadtokens.NewMemoryRepository(),
		store:    newFakeStore(),
		provider: newFakeProvider(),
		mailer:   &fakeMailer{},
	}
	f.invoker = &fakeInvoker{store: f.store}

	db := newTxDB(t, 200)
	m := &fakeRepoManager{p: f.photos, t: f.tokens}
	log := logging.NewDiscardLogger()

	f.downloads = NewDownloadService(db, m, f.store, log, f.cfg)
	f.checkout = NewCheckoutService(db, m, f.provider, log, f.cfg)
	f.reconcile = NewReconcileService(db, m, f.checkout, f.downloads, f.mailer, log, f.cfg)
	f.uploads = NewUploadService(db, m, f.store, f.invoker, f.downloads, log, f.cfg)
	return f
}

func transformedPhoto(paid bool) models.Photo {
	return models.Photo{
		ID:         testRecordID,
		Paid:       paid,
		InputRef:   "in/abc.jpg",
		OutputRef:  "out/xyz.jpg",
		PreviewRef: "preview/xyz.jpg",
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
