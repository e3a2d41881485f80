package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nmbp/pledge_api/internal/logging"
	"github.com/nmbp/pledge_api/internal/notification"
	"github.com/nmbp/pledge_api/internal/session"
)

const (
	DefaultTTL         = 180 * time.Second
	DefaultMaxResends  = 3
	DefaultMaxAttempts = 3
)

// Options tune the manager. Zero values fall back to the defaults.
type Options struct {
	TTL         time.Duration
	MaxResends  int
	MaxAttempts int
	HashCost    int
	Template    notification.OTPTemplate
	Validator   *Validator
	Observer    Observer
	Logger      *slog.Logger
	Now         func() time.Time
}

// Manager drives the OTP-gated registration session.
type Manager struct {
	store     session.Store
	users     UserRepository
	notifier  notification.Notifier
	validator *Validator
	observer  Observer
	logger    *slog.Logger
	opts      Options
}

// NewManager wires a manager over its collaborators.
func NewManager(store session.Store, users UserRepository, notifier notification.Notifier, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxResends <= 0 {
		opts.MaxResends = DefaultMaxResends
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		store:     store,
		users:     users,
		notifier:  notifier,
		validator: opts.Validator,
		observer:  opts.Observer,
		logger:    opts.Logger,
		opts:      opts,
	}
	if m.validator == nil {
		m.validator = NewValidator(nil)
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	if m.notifier == nil {
		m.notifier = notification.NewLoggerNotifier(m.logger)
	}
	return m
}

// Validator exposes the input validator used by the manager.
func (m *Manager) Validator() *Validator { return m.validator }

func (m *Manager) validitySeconds() int { return int(m.opts.TTL / time.Second) }

// RequestOTP validates the candidate, parks it in the session store and
// sends a fresh code to the candidate's mobile number.
func (m *Manager) RequestOTP(ctx context.Context, in Candidate) (Ticket, error) {
	candidate, err := m.validator.Candidate(in)
	if err != nil {
		return Ticket{}, err
	}

	exists, err := m.users.ExistsByMobileNumber(ctx, candidate.MobileNumber)
	if err != nil {
		return Ticket{}, fmt.Errorf("check mobile number: %w", err)
	}
	if exists {
		return Ticket{}, ErrDuplicateMobileNumber
	}

	code, challenge, err := m.newChallenge()
	if err != nil {
		return Ticket{}, err
	}
	pendingRaw, err := session.Encode(PendingRegistration{Candidate: candidate, Status: StatusActive})
	if err != nil {
		return Ticket{}, err
	}
	challengeRaw, err := session.Encode(challenge)
	if err != nil {
		return Ticket{}, err
	}

	txnID := uuid.NewString()
	dataKey, otpKey := session.RegistrationData(txnID), session.RegistrationOTP(txnID)
	err = m.store.Update(ctx, []string{dataKey, otpKey}, func(tx session.Txn) error {
		tx.Set(dataKey, pendingRaw, m.opts.TTL)
		tx.Set(otpKey, challengeRaw, m.opts.TTL)
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}

	m.logger.InfoContext(ctx, "registration otp issued", "txn_id", txnID, "mobile", logging.MaskPhone(candidate.MobileNumber))
	m.observer.Record(EventRequested)
	m.deliver(ctx, txnID, candidate.MobileNumber, code)
	return Ticket{TransactionID: txnID, ValiditySeconds: m.validitySeconds()}, nil
}

// ResendOTP replaces the code of an open transaction and refreshes the TTL
// of both session records. Every successful call consumes one resend.
func (m *Manager) ResendOTP(ctx context.Context, txnID string) (Ticket, error) {
	if !ValidTransactionID(txnID) {
		return Ticket{}, invalidField("txn_id", "txnId must be a valid UUID v4")
	}

	code, fresh, err := m.newChallenge()
	if err != nil {
		return Ticket{}, err
	}

	dataKey, otpKey := session.RegistrationData(txnID), session.RegistrationOTP(txnID)
	var (
		mobile      string
		resendCount int
	)
	err = m.store.Update(ctx, []string{dataKey, otpKey}, func(tx session.Txn) error {
		pendingRaw, err := tx.Get(dataKey)
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionExpired
		}
		if err != nil {
			return err
		}
		var pending PendingRegistration
		if err := session.Decode(pendingRaw, &pending); err != nil {
			return err
		}

		current := 0
		challengeRaw, err := tx.Get(otpKey)
		switch {
		case err == nil:
			var prev Challenge
			if err := session.Decode(challengeRaw, &prev); err != nil {
				return err
			}
			current = prev.ResendCount
		case !errors.Is(err, session.ErrNotFound):
			return err
		}
		if current >= m.opts.MaxResends {
			return ErrResendLimitExceeded
		}

		next := fresh
		next.ResendCount = current + 1
		nextRaw, err := session.Encode(next)
		if err != nil {
			return err
		}
		tx.Delete(otpKey)
		tx.Set(otpKey, nextRaw, m.opts.TTL)
		tx.Set(dataKey, pendingRaw, m.opts.TTL)
		mobile = pending.MobileNumber
		resendCount = next.ResendCount
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrResendLimitExceeded) {
			m.observer.Record(EventResendRejected)
			m.logger.WarnContext(ctx, "registration otp resend rejected", "txn_id", txnID, "error", err)
		}
		return Ticket{}, err
	}

	m.logger.InfoContext(ctx, "registration otp resent", "txn_id", txnID, "resend_count", resendCount)
	m.observer.Record(EventResent)
	m.deliver(ctx, txnID, mobile, code)
	return Ticket{TransactionID: txnID, ValiditySeconds: m.validitySeconds()}, nil
}

// VerifyOTP checks code against the current challenge. Wrong, expired,
// unknown and exhausted transactions all yield false; only store failures
// are returned as errors.
func (m *Manager) VerifyOTP(ctx context.Context, txnID, code string) (bool, error) {
	if !ValidTransactionID(txnID) || !ValidCode(code) {
		return false, nil
	}

	otpKey := session.RegistrationOTP(txnID)
	var (
		matched  bool
		outcome  Event
		attempts int
	)
	err := m.store.Update(ctx, []string{otpKey}, func(tx session.Txn) error {
		matched, outcome = false, ""
		raw, err := tx.Get(otpKey)
		if errors.Is(err, session.ErrNotFound) {
			outcome = EventVerifyAbsent
			return nil
		}
		if err != nil {
			return err
		}
		var challenge Challenge
		if err := session.Decode(raw, &challenge); err != nil {
			return err
		}
		attempts = challenge.Attempts
		if challenge.Attempts >= m.opts.MaxAttempts {
			outcome = EventVerifyExhausted
			return nil
		}

		ok, err := codeMatches(challenge.CodeHash, code)
		if err != nil {
			return fmt.Errorf("compare otp: %w", err)
		}
		if !ok {
			next := challenge.withAttempt()
			attempts = next.Attempts
			nextRaw, err := session.Encode(next)
			if err != nil {
				return err
			}
			tx.Set(otpKey, nextRaw, session.KeepTTL)
			outcome = EventVerifyMismatched
			return nil
		}

		matched, outcome = true, EventVerifyMatched
		if challenge.Phase == PhaseVerified {
			return nil
		}
		nextRaw, err := session.Encode(challenge.verified())
		if err != nil {
			return err
		}
		tx.Set(otpKey, nextRaw, session.KeepTTL)
		return nil
	})
	if err != nil {
		return false, err
	}

	m.observer.Record(outcome)
	switch outcome {
	case EventVerifyExhausted:
		m.logger.WarnContext(ctx, "registration otp rejected", "txn_id", txnID, "error", ErrAttemptLimitExceeded)
	case EventVerifyMismatched:
		m.logger.InfoContext(ctx, "registration otp mismatch", "txn_id", txnID, "attempts", attempts, "max_attempts", m.opts.MaxAttempts)
	case EventVerifyAbsent:
		m.logger.InfoContext(ctx, "registration otp not found", "txn_id", txnID)
	}
	return matched, nil
}

// CommitRegistration creates the durable pledge user for a verified
// transaction and removes both session records. When the user store fails
// the session is left intact so the commit can be retried.
func (m *Manager) CommitRegistration(ctx context.Context, txnID string) (int64, error) {
	if !ValidTransactionID(txnID) {
		return 0, invalidField("txn_id", "txnId must be a valid UUID v4")
	}
	dataKey, otpKey := session.RegistrationData(txnID), session.RegistrationOTP(txnID)

	var pending PendingRegistration
	if err := session.GetJSON(ctx, m.store, dataKey, &pending); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return 0, ErrSessionDataMissing
		}
		return 0, err
	}
	var challenge Challenge
	if err := session.GetJSON(ctx, m.store, otpKey, &challenge); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return 0, ErrSessionNotVerified
		}
		return 0, err
	}
	if challenge.Phase != PhaseVerified {
		return 0, ErrSessionNotVerified
	}

	userID, err := m.users.Create(ctx, pending)
	if err != nil {
		m.observer.Record(EventCommitFailed)
		m.logger.ErrorContext(ctx, "pledge user create failed", "txn_id", txnID, "error", err)
		if errors.Is(err, ErrDuplicateMobileNumber) {
			return 0, err
		}
		return 0, fmt.Errorf("create pledge user: %w", err)
	}

	if err := m.store.Delete(ctx, dataKey, otpKey); err != nil {
		m.logger.WarnContext(ctx, "registration session cleanup failed", "txn_id", txnID, "user_id", userID, "error", err)
	}
	if err := m.store.DeleteByPrefix(ctx, session.PledgesPrefix); err != nil {
		m.logger.WarnContext(ctx, "pledge cache invalidation failed", "txn_id", txnID, "error", err)
	}

	m.observer.Record(EventCommitted)
	m.logger.InfoContext(ctx, "pledge user registered", "txn_id", txnID, "user_id", userID)
	return userID, nil
}

// Inspect returns a read-only snapshot of a transaction.
func (m *Manager) Inspect(ctx context.Context, txnID string) (SessionState, error) {
	if !ValidTransactionID(txnID) {
		return SessionState{}, invalidField("txn_id", "txnId must be a valid UUID v4")
	}
	dataKey, otpKey := session.RegistrationData(txnID), session.RegistrationOTP(txnID)
	state := SessionState{TransactionID: txnID, Phase: PhaseAbsent}

	if _, err := m.store.Get(ctx, dataKey); err == nil {
		state.HasData = true
	} else if !errors.Is(err, session.ErrNotFound) {
		return SessionState{}, err
	}

	var challenge Challenge
	err := session.GetJSON(ctx, m.store, otpKey, &challenge)
	switch {
	case err == nil:
		state.Phase = challenge.Phase
		state.Attempts = challenge.Attempts
		state.ResendCount = challenge.ResendCount
	case errors.Is(err, session.ErrNotFound):
		if state.HasData {
			state.Phase = PhasePending
		}
	default:
		return SessionState{}, err
	}

	if state.Phase != PhaseAbsent {
		key := otpKey
		if state.HasData {
			key = dataKey
		}
		ttl, err := m.store.TTL(ctx, key)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return SessionState{}, err
		}
		if ttl > 0 {
			state.Remaining = ttl
			state.RemainingSeconds = int(ttl / time.Second)
		}
	}
	return state, nil
}

func (m *Manager) newChallenge() (string, Challenge, error) {
	code, err := generateCode()
	if err != nil {
		return "", Challenge{}, err
	}
	hash, err := hashCode(code, m.opts.HashCost)
	if err != nil {
		return "", Challenge{}, err
	}
	return code, Challenge{
		CodeHash: hash,
		IssuedAt: m.opts.Now().UTC(),
		Phase:    PhasePending,
	}, nil
}

func (m *Manager) deliver(ctx context.Context, txnID, mobile, code string) {
	err := m.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindRegistrationOTP,
		Destination: mobile,
		Body:        m.opts.Template.Render(code, m.opts.TTL),
	})
	if err != nil {
		m.observer.Record(EventDeliveryFailed)
		m.logger.WarnContext(ctx, "registration otp delivery failed",
			"txn_id", txnID,
			"mobile", logging.MaskPhone(mobile),
			"error", fmt.Errorf("%w: %v", ErrDeliveryFailure, err),
		)
	}
}
