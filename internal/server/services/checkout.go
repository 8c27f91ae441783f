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
	"github.com/dmitrijs2005/shashinpass/internal/server/payments"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/repomanager"
)

// SessionPlaceholder is substituted by the provider on redirect.
const SessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// CheckoutService opens hosted checkout sessions and reads their status.
// It never flips the paid flag; a paid session is settled by ReconcileService.
type CheckoutService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	provider      payments.Provider
	logger        logging.Logger
	priceID       string
	publicBaseURL string
	callTimeout   time.Duration
}

func NewCheckoutService(db *sql.DB, m repomanager.RepositoryManager, p payments.Provider, logger logging.Logger, cfg *config.Config) *CheckoutService {
	return &CheckoutService{
		db:            db,
		repomanager:   m,
		provider:      p,
		logger:        logger.With("module", "checkout"),
		priceID:       cfg.StripePriceID,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		callTimeout:   cfg.CallTimeout,
	}
}

// DefaultReturnURL is where the provider sends the payer back to.
func (s *CheckoutService) DefaultReturnURL() string {
	return s.publicBaseURL + "/result?session_id=" + SessionPlaceholder
}

// CreateSession validates the configured price, refuses records that are
// missing or already paid, and opens a session bound to recordID. A record
// carries at most one payable session: an earlier open session is expired
// first, and an earlier paid one is left in place for reconciliation.
func (s *CheckoutService) CreateSession(ctx context.Context, recordID, email, returnURL string) (*models.CheckoutSession, error) {
	if err := s.call(ctx, func(ctx context.Context) error {
		return s.provider.ValidatePrice(ctx, s.priceID)
	}); err != nil {
		if common.KindOf(err) == common.KindConfiguration {
			s.logger.Error(ctx, "checkout price is misconfigured", "price_id", s.priceID, "error", err)
		}
		return nil, err
	}

	photos := s.repomanager.Photos(s.db)
	photo, err := photos.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if photo.Paid {
		return nil, common.ErrAlreadyPaid
	}
	if photo.CheckoutSessionID != "" {
		if err := s.retire(ctx, photo.ID, photo.CheckoutSessionID); err != nil {
			return nil, err
		}
	}

	if returnURL == "" {
		returnURL = s.DefaultReturnURL()
	}
	email = strings.TrimSpace(email)

	var session *models.CheckoutSession
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.provider.CreateSession(ctx, models.CheckoutRequest{
			RecordID:  photo.ID,
			PriceID:   s.priceID,
			Email:     email,
			ReturnURL: returnURL,
		})
		return err
	}); err != nil {
		return nil, err
	}

	attached, err := photos.AttachCheckout(ctx, photo.ID, photo.CheckoutSessionID, session.ID, email)
	if err != nil {
		s.expire(ctx, photo.ID, session.ID)
		return nil, fmt.Errorf("error attaching checkout session: %w", err)
	}
	if !attached {
		// Someone else swapped the session or the record got paid meanwhile.
		s.expire(ctx, photo.ID, session.ID)
		return nil, common.ErrCheckoutPending
	}

	s.logger.Info(ctx, "checkout session created", "record_id", photo.ID, "session_id", session.ID)
	return session, nil
}

// retire makes sure the record's previous session can no longer take a
// payment before a new one is opened.
func (s *CheckoutService) retire(ctx context.Context, recordID, sessionID string) error {
	prev, err := s.GetSessionStatus(ctx, sessionID)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil
		}
		return err
	}
	if done, err := s.closed(ctx, prev); done {
		return err
	}

	expireErr := s.call(ctx, func(ctx context.Context) error {
		_, err := s.provider.ExpireSession(ctx, sessionID)
		return err
	})
	if expireErr == nil {
		s.logger.Info(ctx, "earlier checkout session expired", "record_id", recordID, "session_id", sessionID)
		return nil
	}

	// The provider refuses to expire a session that completed in between.
	if prev, err = s.GetSessionStatus(ctx, sessionID); err == nil {
		if done, err := s.closed(ctx, prev); done {
			return err
		}
	}
	return fmt.Errorf("error expiring checkout session: %w", expireErr)
}

// closed reports whether prev can no longer be paid, and the error that
// blocks a new session if any.
func (s *CheckoutService) closed(ctx context.Context, prev *models.CheckoutSession) (bool, error) {
	switch {
	case prev.Paid():
		s.logger.Info(ctx, "earlier checkout session already paid", "record_id", prev.RecordID, "session_id", prev.ID)
		return true, common.ErrAlreadyPaid
	case prev.Status == models.SessionComplete:
		// Completed but unpaid: an async payment is still settling.
		return true, common.ErrCheckoutPending
	case prev.Status == models.SessionExpired:
		return true, nil
	default:
		return false, nil
	}
}

// expire is best effort. A session that fails to expire here was never
// attached or handed out, and the provider expires it on its own schedule.
func (s *CheckoutService) expire(ctx context.Context, recordID, sessionID string) {
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.provider.ExpireSession(ctx, sessionID)
		return err
	})
	if err != nil {
		s.logger.Warn(ctx, "could not expire unattached checkout session", "record_id", recordID, "session_id", sessionID, "error", err)
	}
}

// GetSessionStatus is a pure provider read.
func (s *CheckoutService) GetSessionStatus(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	var session *models.CheckoutSession
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.provider.GetSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *CheckoutService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return callWithTimeout(ctx, s.callTimeout, fn)
}
