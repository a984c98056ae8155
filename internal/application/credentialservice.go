package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// commitTimeout bounds the audit and bookkeeping writes that follow a committed
// state change. They run detached from the caller's cancellation.
const commitTimeout = 5 * time.Second

// Rate limiter action names.
const (
	ActionTest  = "test"
	ActionReset = "reset"
)

// Options tunes CredentialService limits and timing.
type Options struct {
	TestLimit    int
	TestPeriod   time.Duration
	ResetLimit   int
	ResetPeriod  time.Duration
	ProbeTimeout time.Duration
	Now          func() time.Time
}

// DefaultOptions returns the production limits.
func DefaultOptions() Options {
	return Options{
		TestLimit:    10,
		TestPeriod:   time.Hour,
		ResetLimit:   3,
		ResetPeriod:  24 * time.Hour,
		ProbeTimeout: 5 * time.Second,
		Now:          time.Now,
	}
}

// CredentialService orchestrates every credential lifecycle operation. It is
// the only place plaintext secrets are handled after an HTTP request is
// decoded, and the boundary where crypto failures become the generic
// model.ErrCredentialUnavailable.
type CredentialService struct {
	registry *Registry
	store    driven.CredentialStore
	cipher   driven.SecretCipher
	limiter  driven.RateLimiter
	audit    *AuditLog
	probes   map[string]driven.Prober
	validate *validator.Validate
	opts     Options
	logger   *slog.Logger
}

// NewCredentialService creates a CredentialService. Zero-valued options fall
// back to DefaultOptions.
func NewCredentialService(
	registry *Registry,
	store driven.CredentialStore,
	cipher driven.SecretCipher,
	limiter driven.RateLimiter,
	audit *AuditLog,
	probes map[string]driven.Prober,
	opts Options,
	logger *slog.Logger,
) *CredentialService {
	def := DefaultOptions()
	if opts.TestLimit <= 0 {
		opts.TestLimit = def.TestLimit
	}
	if opts.TestPeriod <= 0 {
		opts.TestPeriod = def.TestPeriod
	}
	if opts.ResetLimit <= 0 {
		opts.ResetLimit = def.ResetLimit
	}
	if opts.ResetPeriod <= 0 {
		opts.ResetPeriod = def.ResetPeriod
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}

	return &CredentialService{
		registry: registry,
		store:    store,
		cipher:   cipher,
		limiter:  limiter,
		audit:    audit,
		probes:   probes,
		validate: newValidator(),
		opts:     opts,
		logger:   logger,
	}
}

// Registry returns the service catalog.
func (s *CredentialService) Registry() *Registry {
	return s.registry
}

// Add encrypts and stores a secret. An existing live credential for the same
// tuple is replaced in place and keeps its id.
func (s *CredentialService) Add(ctx context.Context, req AddRequest) (model.CredentialView, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return model.CredentialView{}, err
	}
	spec, err := s.registry.check(req.Service, req.CredentialType)
	if err != nil {
		return model.CredentialView{}, err
	}
	metadata, err := normalizeMetadata(spec, req.Metadata, req.Label)
	if err != nil {
		return model.CredentialView{}, err
	}

	id, created, ciphertext, err := s.seal(ctx, spec, req.Owner, req.CredentialType, req.Secret, metadata)
	if err != nil {
		return model.CredentialView{}, err
	}

	detail := "credential created"
	if !created {
		detail = "existing credential replaced"
	}
	auditCtx, cancel := committed(ctx)
	defer cancel()
	if err := s.audit.Record(auditCtx, s.entry(req.Actor, model.AuditActionCreate, id, req.Owner, req.Service, req.CredentialType,
		model.AuditResultSuccess, detail), req.Secret, ciphertext); err != nil {
		return model.CredentialView{}, err
	}

	s.logger.Info("credential stored",
		"actor", req.Actor, "owner", req.Owner, "service", req.Service,
		"credential_type", req.CredentialType, "credential_id", id, "created", created)

	return s.view(auditCtx, id)
}

// Test decrypts the credential and runs the provider probe under its own
// timeout. A rejected or timed out probe is reported in the result, not as an
// error.
func (s *CredentialService) Test(ctx context.Context, req TestRequest) (model.ProbeResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return model.ProbeResult{}, err
	}
	if _, err := s.registry.check(req.Service, req.CredentialType); err != nil {
		return model.ProbeResult{}, err
	}

	if err := s.checkRate(ctx, req.Actor, ActionTest, s.opts.TestLimit, s.opts.TestPeriod,
		model.AuditActionTest, req.Owner, req.Service, req.CredentialType); err != nil {
		return model.ProbeResult{}, err
	}

	cred, err := s.store.GetByTuple(ctx, req.Owner, req.Service, req.CredentialType)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("loading credential: %w", err)
	}

	result := model.ProbeResult{Service: req.Service, CredentialType: req.CredentialType}

	prober, ok := s.probes[req.Service]
	if !ok {
		result.Status = model.TestStatusError
		result.Message = "no test probe available for this service"
		result.TestedAt = s.opts.Now().UTC()
		return result, s.finishTest(ctx, req.Actor, cred, result)
	}

	plaintext, err := s.cipher.Decrypt(cred.Ciphertext)
	if err != nil {
		s.logCryptoError("decrypt for test", cred, err)
		result.Status = model.TestStatusError
		result.Message = model.ErrCredentialUnavailable.Error()
		result.TestedAt = s.opts.Now().UTC()
		if ferr := s.finishTest(ctx, req.Actor, cred, result); ferr != nil {
			return model.ProbeResult{}, ferr
		}
		return model.ProbeResult{}, model.ErrCredentialUnavailable
	}

	result = s.probe(ctx, prober, cred, plaintext, result)
	if err := s.finishTest(ctx, req.Actor, cred, result, plaintext, cred.Ciphertext); err != nil {
		return model.ProbeResult{}, err
	}
	return result, nil
}

// probe runs the provider call. plaintext is only passed down into it.
func (s *CredentialService) probe(ctx context.Context, prober driven.Prober, cred model.Credential, plaintext string, result model.ProbeResult) model.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := prober.Probe(probeCtx, driven.ProbeInput{
		CredentialType: cred.CredentialType,
		Secret:         plaintext,
		Metadata:       cred.Metadata,
	})
	result.Duration = time.Since(start)
	result.TestedAt = s.opts.Now().UTC()

	switch {
	case err == nil:
		result.Status = model.TestStatusPassed
		result.Message = "credential accepted by provider"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(probeCtx.Err(), context.DeadlineExceeded):
		result.Status = model.TestStatusTimeout
		result.Message = fmt.Sprintf("provider did not answer within %s", s.opts.ProbeTimeout)
	default:
		result.Status = model.TestStatusFailed
		result.Message = redact(err.Error(), plaintext, cred.Ciphertext)
	}
	return result
}

// finishTest persists the test status and audits the outcome.
func (s *CredentialService) finishTest(ctx context.Context, actor string, cred model.Credential, result model.ProbeResult, secrets ...string) error {
	ctx, cancel := committed(ctx)
	defer cancel()

	if err := s.store.RecordTest(ctx, cred.ID, result.Status, result.TestedAt); err != nil {
		return fmt.Errorf("recording test result: %w", err)
	}

	auditResult := model.AuditResultFailure
	if result.Passed() {
		auditResult = model.AuditResultSuccess
	}
	detail := fmt.Sprintf("probe %s: %s", result.Status, result.Message)

	s.logger.Info("credential tested",
		"actor", actor, "owner", cred.Owner, "service", cred.Service,
		"credential_type", cred.CredentialType, "credential_id", cred.ID,
		"status", result.Status, "duration", result.Duration)

	return s.audit.Record(ctx, s.entry(actor, model.AuditActionTest, cred.ID, cred.Owner, cred.Service, cred.CredentialType,
		auditResult, detail), secrets...)
}

// Rotate replaces the secret of an existing credential in place. The tuple, id
// and metadata stay the same. A credential removed concurrently stays removed
// and Rotate returns model.ErrNotFound.
func (s *CredentialService) Rotate(ctx context.Context, req RotateRequest) (model.CredentialView, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return model.CredentialView{}, err
	}
	spec, err := s.registry.check(req.Service, req.CredentialType)
	if err != nil {
		return model.CredentialView{}, err
	}

	if err := s.checkRate(ctx, req.Actor, ActionReset, s.opts.ResetLimit, s.opts.ResetPeriod,
		model.AuditActionRotate, req.Owner, req.Service, req.CredentialType); err != nil {
		return model.CredentialView{}, err
	}

	existing, err := s.store.GetByTuple(ctx, req.Owner, req.Service, req.CredentialType)
	if err != nil {
		return model.CredentialView{}, fmt.Errorf("loading credential: %w", err)
	}

	id := existing.ID

	ciphertext, err := s.encrypt(spec, req.Owner, req.CredentialType, req.Secret)
	if err != nil {
		return model.CredentialView{}, err
	}
	if err := s.store.Reseal(ctx, id, ciphertext, s.cipher.Mask(req.Secret, spec.MaskVisible)); err != nil {
		return model.CredentialView{}, fmt.Errorf("rotating credential: %w", err)
	}

	auditCtx, cancel := committed(ctx)
	defer cancel()
	if err := s.audit.Record(auditCtx, s.entry(req.Actor, model.AuditActionRotate, id, req.Owner, req.Service, req.CredentialType,
		model.AuditResultSuccess, "reason: "+req.Reason), req.Secret, ciphertext, existing.Ciphertext); err != nil {
		return model.CredentialView{}, err
	}

	s.logger.Info("credential rotated",
		"actor", req.Actor, "owner", req.Owner, "service", req.Service,
		"credential_type", req.CredentialType, "credential_id", id)

	return s.view(auditCtx, id)
}

// Remove tombstones the live credential for the tuple.
func (s *CredentialService) Remove(ctx context.Context, req RemoveRequest) error {
	if err := validateRequest(s.validate, req); err != nil {
		return err
	}
	if _, err := s.registry.check(req.Service, req.CredentialType); err != nil {
		return err
	}

	cred, err := s.store.GetByTuple(ctx, req.Owner, req.Service, req.CredentialType)
	if err != nil {
		return fmt.Errorf("loading credential: %w", err)
	}

	deleted, err := s.store.SoftDelete(ctx, cred.ID)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	if !deleted {
		// Removed concurrently between the lookup and the delete.
		return fmt.Errorf("deleting credential: %w", model.ErrNotFound)
	}

	auditCtx, cancel := committed(ctx)
	defer cancel()
	if err := s.audit.Record(auditCtx, s.entry(req.Actor, model.AuditActionDelete, cred.ID, req.Owner, req.Service, req.CredentialType,
		model.AuditResultSuccess, "reason: "+req.Reason), cred.Ciphertext); err != nil {
		return err
	}

	s.logger.Info("credential removed",
		"actor", req.Actor, "owner", req.Owner, "service", req.Service,
		"credential_type", req.CredentialType, "credential_id", cred.ID)
	return nil
}

// List returns the owner's credentials for display. Nothing is decrypted.
func (s *CredentialService) List(ctx context.Context, owner string) ([]model.CredentialView, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, errValidation("owner", "is required")
	}

	creds, err := s.store.List(ctx, model.CredentialFilter{Owner: owner})
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	views := make([]model.CredentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, c.View())
	}
	return views, nil
}

// GetPlaintextForUse decrypts a system credential for an immediate outbound
// call. The read is audited before the plaintext is returned; callers must
// not retain it beyond that call. Never exposed over HTTP.
func (s *CredentialService) GetPlaintextForUse(ctx context.Context, req UseRequest) (string, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return "", err
	}
	if _, err := s.registry.check(req.Service, req.CredentialType); err != nil {
		return "", err
	}

	cred, err := s.store.GetByTuple(ctx, model.SystemOwner, req.Service, req.CredentialType)
	if err != nil {
		return "", fmt.Errorf("loading credential: %w", err)
	}

	plaintext, err := s.cipher.Decrypt(cred.Ciphertext)
	if err != nil {
		s.logCryptoError("decrypt for use", cred, err)
		auditCtx, cancel := committed(ctx)
		defer cancel()
		if aerr := s.audit.Record(auditCtx, s.entry(req.Actor, model.AuditActionRead, cred.ID, cred.Owner, cred.Service, cred.CredentialType,
			model.AuditResultFailure, "decryption failed; purpose: "+req.Purpose), cred.Ciphertext); aerr != nil {
			return "", aerr
		}
		return "", model.ErrCredentialUnavailable
	}

	if err := s.audit.Record(ctx, s.entry(req.Actor, model.AuditActionRead, cred.ID, cred.Owner, cred.Service, cred.CredentialType,
		model.AuditResultSuccess, "purpose: "+req.Purpose), plaintext, cred.Ciphertext); err != nil {
		return "", err
	}
	return plaintext, nil
}

// encrypt seals secret. The cipher error is logged and replaced by the
// generic model.ErrCredentialUnavailable.
func (s *CredentialService) encrypt(spec ServiceSpec, owner, credentialType, secret string) (string, error) {
	ciphertext, err := s.cipher.Encrypt(secret)
	if err != nil {
		s.logger.Error("credential encryption failed",
			"owner", owner, "service", spec.Name, "credential_type", credentialType, "error", err)
		return "", model.ErrCredentialUnavailable
	}
	return ciphertext, nil
}

// seal encrypts and masks the secret and upserts it for the tuple. It returns
// the ciphertext so callers can keep it out of audit detail.
func (s *CredentialService) seal(ctx context.Context, spec ServiceSpec, owner, credentialType, secret string, metadata map[string]string) (string, bool, string, error) {
	ciphertext, err := s.encrypt(spec, owner, credentialType, secret)
	if err != nil {
		return "", false, "", err
	}

	id, created, err := s.store.Put(ctx, model.CredentialWrite{
		Owner:          owner,
		Service:        spec.Name,
		CredentialType: credentialType,
		Ciphertext:     ciphertext,
		Mask:           s.cipher.Mask(secret, spec.MaskVisible),
		Metadata:       metadata,
	})
	if err != nil {
		return "", false, "", fmt.Errorf("storing credential: %w", err)
	}
	return id, created, ciphertext, nil
}

// checkRate consumes one unit of the principal's allowance. Denials are
// audited against the tuple and returned as *model.RateLimitError.
func (s *CredentialService) checkRate(ctx context.Context, principal, action string, limit int, period time.Duration,
	auditAction model.AuditAction, owner, service, credentialType string) error {
	decision, err := s.limiter.CheckAndIncrement(ctx, principal, action, limit, period)
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if decision.Allowed {
		return nil
	}

	s.logger.Warn("rate limit exceeded",
		"principal", principal, "action", action, "retry_after", decision.RetryAfter)

	auditCtx, cancel := committed(ctx)
	defer cancel()
	if err := s.audit.Record(auditCtx, s.entry(principal, auditAction, "", owner, service, credentialType,
		model.AuditResultFailure, fmt.Sprintf("rate limited, retry after %ds", decision.RetryAfterSeconds()))); err != nil {
		return err
	}
	return &model.RateLimitError{Action: action, RetryAfter: decision.RetryAfter}
}

// committed returns a context for writes that must follow an already
// persisted change even when the caller has gone away.
func committed(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}

func (s *CredentialService) view(ctx context.Context, id string) (model.CredentialView, error) {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return model.CredentialView{}, fmt.Errorf("reloading credential: %w", err)
	}
	return cred.View(), nil
}

func (s *CredentialService) entry(actor string, action model.AuditAction, credentialID, owner, service, credentialType string,
	result model.AuditResult, detail string) model.AuditEntry {
	return model.AuditEntry{
		Actor:          actor,
		Action:         action,
		CredentialID:   credentialID,
		Owner:          owner,
		Service:        service,
		CredentialType: credentialType,
		Result:         result,
		Detail:         detail,
		Timestamp:      s.opts.Now().UTC(),
	}
}

// logCryptoError keeps the full cipher failure server-side. The error itself
// never includes key or secret material.
func (s *CredentialService) logCryptoError(op string, cred model.Credential, err error) {
	s.logger.Error("credential "+op+" failed",
		"credential_id", cred.ID,
		"owner", cred.Owner,
		"service", cred.Service,
		"credential_type", cred.CredentialType,
		"error", err,
	)
}

// redact replaces every occurrence of the given secrets in s.
func redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "****")
		}
	}
	return s
}
