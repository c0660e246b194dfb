package sequences

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/config"
	dbpkg "github.com/angelmondragon/custody-backend/pkg/db"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/retry"
	"github.com/angelmondragon/custody-backend/pkg/tracing"
)

// MaxValue is the largest number the six digit format can carry.
const MaxValue = 999999

var prefixPattern = regexp.MustCompile(`^[A-Z0-9-]{1,16}$`)

// Key identifies one counter: a document prefix and a fiscal period.
type Key struct {
	Prefix string `json:"prefix"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
}

// NewKey normalizes and validates a counter key.
func NewKey(prefix string, year, month int) (Key, error) {
	key := Key{Prefix: strings.ToUpper(strings.TrimSpace(prefix)), Year: year, Month: month}
	if !prefixPattern.MatchString(key.Prefix) {
		return Key{}, pkgerrors.New(pkgerrors.CodeValidation, "prefix must be 1-16 characters of A-Z, 0-9 or -").
			WithDetails(map[string]any{"prefix": prefix})
	}
	if year < 1970 || year > 9999 {
		return Key{}, pkgerrors.New(pkgerrors.CodeValidation, "year out of range").WithDetails(map[string]any{"year": year})
	}
	if month < 1 || month > 12 {
		return Key{}, pkgerrors.New(pkgerrors.CodeValidation, "month out of range").WithDetails(map[string]any{"month": month})
	}
	return key, nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%04d/%02d", k.Prefix, k.Year, k.Month)
}

// Format renders the external document number, e.g. INV/2026/02/000042.
func Format(key Key, value int64) string {
	return fmt.Sprintf("%s/%06d", key.String(), value)
}

// Issued is one allocated document number.
type Issued struct {
	Key    Key    `json:"key"`
	Value  int64  `json:"value"`
	Number string `json:"number"`
}

// Service allocates gap-free document numbers.
type Service interface {
	NextNumber(ctx context.Context, prefix string, year, month int) (string, error)
	Next(ctx context.Context, key Key) (*Issued, error)
	Peek(ctx context.Context, prefix string, year, month int) (*Issued, error)
	List(ctx context.Context, prefix string) ([]Issued, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	tx     txRunner
	repo   Repository
	logg   *logger.Logger
	policy retry.Config
}

// NewService builds the sequence generator. Lock contention is retried with
// the ledger retry settings; a retried attempt never consumed a number.
func NewService(tx txRunner, repo Repository, cfg config.LedgerConfig, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("sequence repository required")
	}
	return &service{
		tx:     tx,
		repo:   repo,
		logg:   logg,
		policy: retry.Config{Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff},
	}, nil
}

func (s *service) NextNumber(ctx context.Context, prefix string, year, month int) (string, error) {
	key, err := NewKey(prefix, year, month)
	if err != nil {
		return "", err
	}
	issued, err := s.Next(ctx, key)
	if err != nil {
		return "", err
	}
	return issued.Number, nil
}

func (s *service) Next(ctx context.Context, key Key) (issued *Issued, err error) {
	key, err = NewKey(key.Prefix, key.Year, key.Month)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "sequences.Next", tracing.SequenceKey(key.String()))
	defer func() { tracing.End(span, err) }()

	policy := retry.NewPolicy[int64](s.policy)
	value, err := retry.Get(ctx, policy, func() (int64, error) {
		return s.allocate(ctx, key)
	})
	if err != nil {
		if s.logg != nil && pkgerrors.IsRetryable(err) {
			logCtx := s.logg.WithField(ctx, "sequence_key", key.String())
			s.logg.Error(logCtx, "sequence allocation failed", err)
		}
		return nil, err
	}

	issued = &Issued{Key: key, Value: value, Number: Format(key, value)}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"sequence_key": key.String(), "number": issued.Number})
		s.logg.Debug(logCtx, "sequence number issued")
	}
	return issued, nil
}

// allocate runs one increment-and-read under the counter row lock.
func (s *service) allocate(ctx context.Context, key Key) (int64, error) {
	var next int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Ensure(ctx, key); err != nil {
			return storageError(err, "ensure counter")
		}
		row, err := repo.Lock(ctx, key)
		if err != nil {
			return storageError(err, "lock counter")
		}
		if row.LastValue >= MaxValue {
			return pkgerrors.New(pkgerrors.CodeConflict, "sequence exhausted for period").
				WithDetails(map[string]any{"key": key.String(), "last_value": row.LastValue})
		}
		next = row.LastValue + 1
		ok, err := repo.Advance(ctx, key, row.LastValue, next)
		if err != nil {
			return storageError(err, "advance counter")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeResourceLocked, "counter moved under lock")
		}
		return nil
	})
	if err != nil {
		return 0, storageError(err, "commit counter")
	}
	return next, nil
}

func (s *service) Peek(ctx context.Context, prefix string, year, month int) (*Issued, error) {
	key, err := NewKey(prefix, year, month)
	if err != nil {
		return nil, err
	}
	row, err := s.repo.Find(ctx, key)
	if err != nil {
		return nil, storageError(err, "load counter")
	}
	if row == nil {
		return &Issued{Key: key}, nil
	}
	return issuedFromRow(row), nil
}

func (s *service) List(ctx context.Context, prefix string) ([]Issued, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if !prefixPattern.MatchString(prefix) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid prefix")
	}
	rows, err := s.repo.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, storageError(err, "list counters")
	}
	out := make([]Issued, 0, len(rows))
	for i := range rows {
		out = append(out, *issuedFromRow(&rows[i]))
	}
	return out, nil
}

func issuedFromRow(row *models.SequenceCounter) *Issued {
	key := Key{Prefix: row.Prefix, Year: row.Year, Month: row.Month}
	issued := &Issued{Key: key, Value: row.LastValue}
	if row.LastValue > 0 {
		issued.Number = Format(key, row.LastValue)
	}
	return issued
}

func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if dbpkg.IsLockContention(err) {
		return pkgerrors.Wrap(pkgerrors.CodeResourceLocked, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodePersistence, err, msg)
}
