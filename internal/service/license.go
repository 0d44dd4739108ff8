package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"license-gate/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidOwner = errors.New("owner email required")
	ErrInvalidMeta  = errors.New("license meta must be a JSON object")
)

// LicenseStore is the persistence the license service needs.
type LicenseStore interface {
	Create(ctx context.Context, lic *model.License) error
	FindByDigest(ctx context.Context, digest string) (*model.License, error)
	Redeem(ctx context.Context, digest string, identity int64, now time.Time) (bool, error)
	HasRedemption(ctx context.Context, identity int64) (bool, error)
	List(ctx context.Context, limit int) ([]model.License, error)
	Statistics(ctx context.Context, now time.Time) (*model.LicenseStatistics, error)
}

type Auditor interface {
	Record(ctx context.Context, actor, action, target, targetID string, details interface{}) error
}

type LicenseExporter interface {
	SyncLicense(ctx context.Context, license *model.License) error
}

// IssuedLicense carries the plaintext code. It is handed out exactly once.
type IssuedLicense struct {
	ID    string
	Email string
	Code  string
}

type LicenseService struct {
	store    LicenseStore
	audit    Auditor
	exporter LicenseExporter
	log      zerolog.Logger
	now      func() time.Time
	newCode  func() (string, error)

	exports  sync.WaitGroup
	exportMu sync.Mutex
	queue    []*model.License
	draining bool
}

type Option func(*LicenseService)

func WithAuditor(a Auditor) Option {
	return func(s *LicenseService) { s.audit = a }
}

// WithExporter enables the asynchronous export of changed licenses.
func WithExporter(e LicenseExporter) Option {
	return func(s *LicenseService) { s.exporter = e }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *LicenseService) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *LicenseService) { s.now = now }
}

func NewLicenseService(store LicenseStore, opts ...Option) *LicenseService {
	s := &LicenseService{
		store:   store,
		log:     zerolog.Nop(),
		now:     time.Now,
		newCode: GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a code for email and stores only its digest.
func (s *LicenseService) Issue(ctx context.Context, actor, email string, meta map[string]interface{}) (*IssuedLicense, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrInvalidOwner
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}

	code, err := s.newCode()
	if err != nil {
		return nil, err
	}

	lic := &model.License{
		ID:        uuid.NewString(),
		CodeHash:  Digest(NormalizeCode(code)),
		Status:    model.LicenseUnused,
		Email:     email,
		Meta:      string(metaJSON),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Create(ctx, lic); err != nil {
		return nil, err
	}

	s.log.Info().Str("license_id", lic.ID).Str("email", email).Str("actor", actor).Msg("license issued")
	s.record(ctx, actor, model.ActionLicenseIssue, lic.ID, map[string]interface{}{"email": email})
	s.export(lic)

	return &IssuedLicense{ID: lic.ID, Email: email, Code: code}, nil
}

// Redeem binds the license behind submitted to identity. Empty input, unknown codes
// and already redeemed codes all return false without error.
func (s *LicenseService) Redeem(ctx context.Context, identity int64, submitted string) (bool, error) {
	normalized := NormalizeCode(submitted)
	if normalized == "" {
		return false, nil
	}
	digest := Digest(normalized)

	ok, err := s.store.Redeem(ctx, digest, identity, s.now())
	if err != nil || !ok {
		return false, err
	}

	lic, err := s.store.FindByDigest(ctx, digest)
	if err != nil || lic == nil {
		s.log.Warn().Err(err).Int64("identity", identity).Msg("redeemed license could not be reloaded")
		return true, nil
	}

	s.log.Info().Str("license_id", lic.ID).Int64("identity", identity).Msg("license redeemed")
	s.record(ctx, fmt.Sprintf("telegram:%d", identity), model.ActionLicenseRedeem, lic.ID,
		map[string]interface{}{"identity": identity})
	s.export(lic)
	return true, nil
}

func (s *LicenseService) CheckAccess(ctx context.Context, identity int64) (bool, error) {
	return s.store.HasRedemption(ctx, identity)
}

// Lookup finds the license for a plaintext code; nil when there is none.
func (s *LicenseService) Lookup(ctx context.Context, code string) (*model.License, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, nil
	}
	return s.store.FindByDigest(ctx, Digest(normalized))
}

func (s *LicenseService) List(ctx context.Context, limit int) ([]model.License, error) {
	return s.store.List(ctx, limit)
}

func (s *LicenseService) Statistics(ctx context.Context) (*model.LicenseStatistics, error) {
	return s.store.Statistics(ctx, s.now())
}

// Wait blocks until pending exports have finished.
func (s *LicenseService) Wait() {
	s.exports.Wait()
}

func (s *LicenseService) record(ctx context.Context, actor, action, targetID string, details interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, actor, action, "license", targetID, details); err != nil {
		s.log.Error().Err(err).Str("action", action).Str("license_id", targetID).Msg("audit log write failed")
	}
}

// export queues a snapshot of lic. A single drain goroutine pushes the queue in
// order, so the row for a license is never looked up by two exports at once.
func (s *LicenseService) export(lic *model.License) {
	if s.exporter == nil {
		return
	}
	snapshot := *lic

	s.exportMu.Lock()
	defer s.exportMu.Unlock()
	s.exports.Add(1)
	s.queue = append(s.queue, &snapshot)
	if !s.draining {
		s.draining = true
		go s.drain()
	}
}

func (s *LicenseService) drain() {
	for {
		s.exportMu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.exportMu.Unlock()
			return
		}
		lic := s.queue[0]
		s.queue = s.queue[1:]
		s.exportMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.exporter.SyncLicense(ctx, lic); err != nil {
			s.log.Error().Err(err).Str("license_id", lic.ID).Msg("license export failed")
		}
		cancel()
		s.exports.Done()
	}
}
