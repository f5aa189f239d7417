package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/landora/backoffice-gate/internal/session"
	"github.com/landora/backoffice-gate/internal/telemetry/metrics"
	"github.com/landora/backoffice-gate/pkg"

	log "github.com/sirupsen/logrus"
)

// loginDelay is applied to every single login attempt, no matter the outcome,
// so that misconfiguration, rate limiting and wrong credentials are not
// distinguishable by response timing. Do not remove or branch around it.
const loginDelay = 650 * time.Millisecond

var (
	// ErrAccessDenied is the only error ever surfaced to clients
	ErrAccessDenied = errors.New("access denied")

	errNotConfigured    = errors.New("admin credentials or signing secret not set")
	errRateLimited      = errors.New("too many login attempts")
	errWrongCredentials = errors.New("wrong credentials")
)

type Admin struct {
	Email string
	// Password holds either a bcrypt hash (preferred) or a plaintext password
	// kept for backward compatibility with older deployments
	Password string
}

type Service struct {
	admin    Admin
	sessions *session.Manager
	attempts AttemptStore
	auditor  AuditRecorder
	instr    *metrics.Manager

	// when the configured password is plaintext, it gets hashed once per process
	hashOnce   sync.Once
	hashedPass string
	hashErr    error

	// ability to inject the delay func (for unit testing)
	SleepFunc func(d time.Duration)
}

func NewService(
	admin Admin,
	sessions *session.Manager,
	attempts AttemptStore,
	auditor AuditRecorder,
	instr *metrics.Manager,
) *Service {
	return &Service{
		admin:     admin,
		sessions:  sessions,
		attempts:  attempts,
		auditor:   auditor,
		instr:     instr,
		SleepFunc: time.Sleep,
	}
}

// Login checks the submitted credentials and mints a session token on success.
// Every failure path returns ErrAccessDenied so callers cannot tell whether the
// email, the password, the rate limiter or the configuration was at fault; the
// real reason goes to logs, metrics and the audit trail only.
func (s *Service) Login(ctx context.Context, email, password, clientAddr string) (string, error) {
	token, err := s.login(ctx, email, password, clientAddr)
	if err != nil {
		log.Warnf("admin login from %s failed: %s", clientAddr, err)
		return "", ErrAccessDenied
	}

	log.Infof("admin login from %s: access granted", clientAddr)
	return token, nil
}

func (s *Service) login(ctx context.Context, email, password, clientAddr string) (string, error) {
	attemptCount, err := s.attempts.Increment(ctx, clientAddr)
	if err != nil {
		// fail closed, an unavailable limiter must not open the gate
		log.Errorf("login attempt store: %s", err)
		attemptCount = MaxAttemptsPerWindow + 1
	}

	s.SleepFunc(loginDelay)

	if s.admin.Email == "" || s.admin.Password == "" || !s.sessions.Configured() {
		s.recordOutcome(ctx, clientAddr, OutcomeMisconfigured)
		return "", errNotConfigured
	}

	if attemptCount > MaxAttemptsPerWindow {
		s.recordOutcome(ctx, clientAddr, OutcomeRateLimited)
		return "", errRateLimited
	}

	emailMatch := strings.EqualFold(email, s.admin.Email)

	passwordHash, err := s.passwordHash()
	if err != nil {
		s.recordOutcome(ctx, clientAddr, OutcomeMisconfigured)
		return "", err
	}

	// always run the hash comparison, even when the email already failed
	passwordMatch := pkg.CheckPasswordHash(password, passwordHash)

	if !emailMatch || !passwordMatch {
		s.recordOutcome(ctx, clientAddr, OutcomeDenied)
		return "", errWrongCredentials
	}

	token, err := s.sessions.Sign()
	if err != nil {
		s.recordOutcome(ctx, clientAddr, OutcomeMisconfigured)
		return "", err
	}

	s.recordOutcome(ctx, clientAddr, OutcomeGranted)
	return token, nil
}

func (s *Service) passwordHash() (string, error) {
	if pkg.IsPasswordHash(s.admin.Password) {
		return s.admin.Password, nil
	}

	s.hashOnce.Do(func() {
		s.hashedPass, s.hashErr = pkg.HashPassword(s.admin.Password)
	})
	return s.hashedPass, s.hashErr
}

func (s *Service) recordOutcome(ctx context.Context, clientAddr, outcome string) {
	if s.instr != nil {
		switch outcome {
		case OutcomeGranted:
			s.instr.CounterLoginGranted.Inc()
		case OutcomeDenied:
			s.instr.CounterLoginDenied.Inc()
		case OutcomeMisconfigured:
			s.instr.CounterLoginMisconfigured.Inc()
		case OutcomeRateLimited:
			s.instr.CounterLoginRateLimited.Inc()
		}
	}

	if s.auditor == nil {
		return
	}

	if err := s.auditor.Record(ctx, LoginAttempt{
		ClientAddr: clientAddr,
		Outcome:    outcome,
		CreatedAt:  time.Now(),
	}); err != nil {
		log.Errorf("record login attempt audit: %s", err)
	}
}
