package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/logging"
	"github.com/dmitrijs2005/shashinpass/internal/server/config"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/dmitrijs2005/shashinpass/internal/server/notify"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/shashinpass/internal/server/retry"
)

// ReconcileService turns a settled checkout into a released download.
//
// Both entry points verify payment with the provider, flip the record's paid
// flag with a conditional update and then mint a full-scope token under the
// retry policy. Concurrent runs for one record are fine: exactly one of them
// flips the flag and sends the e-mail, every run mints its own token.
type ReconcileService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	checkout      *CheckoutService
	downloads     *DownloadService
	mailer        notify.Mailer
	logger        logging.Logger
	policy        retry.Policy
	downloadTTL   time.Duration
	emailLinkTTL  time.Duration
	publicBaseURL string
	callTimeout   time.Duration
}

func NewReconcileService(db *sql.DB, m repomanager.RepositoryManager, cs *CheckoutService, ds *DownloadService,
	mailer notify.Mailer, logger logging.Logger, cfg *config.Config) *ReconcileService {
	return &ReconcileService{
		db:          db,
		repomanager: m,
		checkout:    cs,
		downloads:   ds,
		mailer:      mailer,
		logger:      logger.With("module", "reconcile"),
		policy: retry.Policy{
			Attempts:      cfg.RetryAttempts,
			Delay:         cfg.RetryDelay,
			DeferredDelay: cfg.RetryDeferredDelay,
			CallTimeout:   cfg.CallTimeout,
			Retryable:     mintRetryable,
		},
		downloadTTL:   cfg.DownloadTokenTTL,
		emailLinkTTL:  cfg.EmailLinkTTL,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		callTimeout:   cfg.CallTimeout,
	}
}

// mintRetryable: right after the flip a PaymentRequired only means the read
// path has not caught up yet.
func mintRetryable(err error) bool {
	switch common.KindOf(err) {
	case common.KindPaymentRequired, common.KindTransient:
		return true
	default:
		return false
	}
}

// ConfirmSession handles the redirect return and the provider webhook.
func (s *ReconcileService) ConfirmSession(ctx context.Context, sessionID string) (*models.Confirmation, error) {
	s.transition(ctx, "", sessionID, models.StateConfirming)

	session, err := s.checkout.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.RecordID == "" {
		s.logger.Warn(ctx, "checkout session is not bound to a record", "session_id", sessionID)
		return nil, fmt.Errorf("%w: session has no record", common.ErrorNotFound)
	}
	return s.settle(ctx, session.RecordID, session, false)
}

// ConfirmRecord handles client polling and the manual retry action. A paid
// record goes straight to minting; otherwise the record's last checkout
// session is checked with the provider.
func (s *ReconcileService) ConfirmRecord(ctx context.Context, recordID string) (*models.Confirmation, error) {
	photo, err := s.getRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if photo.Paid {
		return s.authorize(ctx, photo.ID, false, "")
	}
	if photo.CheckoutSessionID == "" {
		return &models.Confirmation{RecordID: photo.ID, State: models.StateUnconfirmed}, nil
	}

	s.transition(ctx, photo.ID, photo.CheckoutSessionID, models.StateConfirming)

	session, err := s.checkout.GetSessionStatus(ctx, photo.CheckoutSessionID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, photo.ID, session, true)
}

// settle flips the record for a paid session and mints. An unpaid session on
// a record paid through some other session only mints when the caller already
// holds the record capability (paidElsewhereMints); a session id alone is not
// one.
func (s *ReconcileService) settle(ctx context.Context, recordID string, session *models.CheckoutSession, paidElsewhereMints bool) (*models.Confirmation, error) {
	if session.RecordID != recordID {
		s.logger.Warn(ctx, "checkout session belongs to another record",
			"record_id", recordID, "session_id", session.ID, "session_record_id", session.RecordID)
		return nil, fmt.Errorf("%w: session does not match record", common.ErrorNotFound)
	}

	if !session.Paid() {
		photo, err := s.getRecord(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if photo.Paid {
			// Settled through another session.
			if paidElsewhereMints {
				return s.authorize(ctx, recordID, false, "")
			}
			s.transition(ctx, recordID, session.ID, models.StateConfirmed)
			return &models.Confirmation{RecordID: recordID, State: models.StateConfirmed, Paid: true}, nil
		}
		s.transition(ctx, recordID, session.ID, models.StateUnconfirmed)
		return &models.Confirmation{RecordID: recordID, State: models.StateUnconfirmed, Retryable: true}, nil
	}

	s.transition(ctx, recordID, session.ID, models.StateConfirmed)

	var flipped bool
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		flipped, err = s.repomanager.Photos(s.db).MarkPaid(ctx, recordID, session.PayerEmail)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error marking record paid: %w", err)
	}
	if flipped {
		s.logger.Info(ctx, "record marked paid", "record_id", recordID, "session_id", session.ID)
	}

	return s.authorize(ctx, recordID, flipped, session.PayerEmail)
}

// authorize mints the full-scope token under the retry policy. The flipping
// caller also sends the confirmation e-mail.
func (s *ReconcileService) authorize(ctx context.Context, recordID string, flipped bool, payerEmail string) (*models.Confirmation, error) {
	s.transition(ctx, recordID, "", models.StateTokenPending)

	var token *models.DownloadToken
	attempts, err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		token, err = s.downloads.RequestToken(ctx, recordID, models.ScopeFull, s.downloadTTL)
		if err != nil {
			s.logger.Debug(ctx, "token mint attempt failed", "record_id", recordID, "error", err)
		}
		return err
	})

	c := &models.Confirmation{RecordID: recordID, Paid: true, Attempts: attempts}
	switch {
	case err == nil:
		c.State = models.StateTokenIssued
		c.Token = token
	case mintRetryable(err):
		c.State = models.StateDegraded
		c.Retryable = true
		s.logger.Error(ctx, "download preparation delayed",
			"record_id", recordID, "attempts", attempts, "error", err)
	default:
		if flipped {
			s.sendConfirmation(context.WithoutCancel(ctx), recordID, payerEmail, false)
		}
		return nil, err
	}
	s.transition(ctx, recordID, "", c.State)

	if flipped {
		s.sendConfirmation(context.WithoutCancel(ctx), recordID, payerEmail, c.State == models.StateTokenIssued)
	}
	return c, nil
}

// sendConfirmation is best effort. A crash between the flip and this call
// loses the e-mail; a failed send is logged and not retried.
func (s *ReconcileService) sendConfirmation(ctx context.Context, recordID, payerEmail string, withLink bool) {
	photo, err := s.getRecord(ctx, recordID)
	if err != nil {
		s.logger.Error(ctx, "confirmation e-mail skipped", "record_id", recordID, "error", err)
		return
	}
	to := photo.ContactEmail
	if to == "" {
		to = payerEmail
	}
	if to == "" {
		s.logger.Warn(ctx, "no contact e-mail for paid record", "record_id", recordID)
		return
	}

	msg := notify.Confirmation{
		To:        to,
		RecordID:  recordID,
		ResultURL: s.publicBaseURL + "/result/" + recordID,
	}
	if withLink {
		link, err := s.downloads.RequestToken(ctx, recordID, models.ScopeFull, s.emailLinkTTL)
		if err != nil {
			s.logger.Warn(ctx, "e-mail link token not issued", "record_id", recordID, "error", err)
		} else {
			msg.DownloadURL = s.publicBaseURL + "/api/downloads/" + link.Token
			msg.ExpiresAt = link.ExpiresAt
		}
	}

	if err := s.call(ctx, func(ctx context.Context) error {
		return s.mailer.SendConfirmation(ctx, msg)
	}); err != nil {
		s.logger.Error(ctx, "confirmation e-mail failed", "record_id", recordID, "error", err)
		return
	}
	s.logger.Info(ctx, "confirmation e-mail sent", "record_id", recordID, "with_link", msg.DownloadURL != "")
}

func (s *ReconcileService) getRecord(ctx context.Context, recordID string) (*models.Photo, error) {
	var photo *models.Photo
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		photo, err = s.repomanager.Photos(s.db).Get(ctx, recordID)
		return err
	})
	return photo, err
}

func (s *ReconcileService) transition(ctx context.Context, recordID, sessionID string, state models.ConfirmationState) {
	s.logger.Debug(ctx, "reconciliation state", "record_id", recordID, "session_id", sessionID, "state", state)
}

func (s *ReconcileService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return callWithTimeout(ctx, s.callTimeout, fn)
}
