// Package idempotency выполняет мутирующие запросы не больше одного раза на ключ
// и периодически удаляет просроченные ключи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ttejuosho/akubata/internal/domain"
)

// DefaultTTL: сколько хранится ответ на запрос с idempotency-key.
const DefaultTTL = 24 * time.Hour

// Response: закодированный транспортом результат запроса.
// Status: HTTP-статус или код gRPC, Body: тело ответа или ошибки.
type Response struct {
	Status int
	Body   []byte
	// Failed: запрос завершился ошибкой; при повторе она воспроизводится.
	Failed bool
	// Retryable: ошибку можно повторить (например, конфликт блокировок);
	// такой результат не сохраняется и ключ освобождается.
	Retryable bool
}

// Guard выполняет мутирующий запрос не больше одного раза на ключ
// и воспроизводит сохранённый ответ при повторе.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок хранения ответа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт логгер.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создаёт Guard поверх репозитория ключей. nil repo отключает защиту.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    DefaultTTL,
		logger: log.WithField("component", "idempotency-guard"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute запускает handler под ключом key. Пустой ключ или выключенный Guard:
// handler вызывается напрямую. replayed == true, если ответ взят из хранилища.
//
// Ошибки: ErrIdempotencyHashMismatch (ключ занят другим запросом),
// ErrIdempotencyInProgress (запрос с ключом ещё выполняется).
func (g *Guard) Execute(
	ctx context.Context,
	key, scope string,
	request any,
	handler func(context.Context) Response,
) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return handler(ctx), false, nil
	}

	hash, err := RequestHash(scope, request)
	if err != nil {
		return Response{}, false, err
	}

	record, err := g.repo.CreateProcessing(ctx, key, hash, g.now().UTC().Add(g.ttl))
	if err != nil {
		return g.replay(err, record)
	}

	resp = handler(ctx)
	g.store(ctx, key, resp)
	return resp, false, nil
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status.Terminal():
			failed := record.Status == domain.IdempotencyStatusFailed
			return Response{Status: record.HTTPStatus, Body: record.ResponseBody, Failed: failed}, true, nil
		case record.Status == domain.IdempotencyStatusProcessing:
			return Response{}, false, domain.ErrIdempotencyInProgress
		default:
			return Response{}, false, fmt.Errorf("unknown idempotency status %q", record.Status)
		}
	default:
		return Response{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

// store сохраняет результат. Ошибка хранилища не отменяет уже выполненный запрос.
func (g *Guard) store(ctx context.Context, key string, resp Response) {
	var err error
	switch {
	case resp.Retryable:
		err = g.repo.Release(ctx, key)
	case resp.Failed:
		err = g.repo.MarkFailed(ctx, key, resp.Body, resp.Status)
	default:
		err = g.repo.MarkDone(ctx, key, resp.Body, resp.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}

// RequestHash: sha256 от области запроса и его JSON-представления.
func RequestHash(scope string, request any) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("encode idempotent request: %w", err)
	}

	payload := make([]byte, 0, len(scope)+1+len(data))
	payload = append(payload, scope...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
