package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"modbusmgr/internal/domain"
	"modbusmgr/internal/nuvla"
)

//go:generate mockgen -destination=mock_registry.go -package=service modbusmgr/internal/service RegistryClient

// RegistryClient applies peripheral records to the remote inventory
type RegistryClient interface {
	Create(ctx context.Context, id domain.Identity, metadata map[string]string) (string, error)
	Update(ctx context.Context, id domain.Identity, remoteID string, metadata map[string]string) error
	Remove(ctx context.Context, id domain.Identity, remoteID string) error
}

var errNotDispatched = errors.New("operation not dispatched before shutdown")

// Applier dispatches a cycle's operations to the registry. Operations for
// different identities run concurrently up to the configured limit; the
// engine never hands it two operations for one identity.
type Applier struct {
	client RegistryClient
	limit  int
	logger zerolog.Logger
}

// NewApplier creates an applier with at most limit registry calls in flight
func NewApplier(client RegistryClient, limit int, logger zerolog.Logger) *Applier {
	if limit < 1 {
		limit = 1
	}
	return &Applier{client: client, limit: limit, logger: logger}
}

// Apply runs every operation and returns one result per operation, in order.
//
// Once ctx is cancelled no further operation is started and the remaining
// ones fail with errNotDispatched. Calls already started run to completion
// so the registry and the table stay consistent.
func (a *Applier) Apply(ctx context.Context, ops []domain.Operation) []domain.OperationResult {
	results := make([]domain.OperationResult, len(ops))
	callCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(a.limit)

	for i, op := range ops {
		results[i] = domain.OperationResult{Operation: op}

		if ctx.Err() != nil {
			results[i].Err = errNotDispatched
			continue
		}

		g.Go(func() error {
			results[i] = a.apply(callCtx, op)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (a *Applier) apply(ctx context.Context, op domain.Operation) domain.OperationResult {
	res := domain.OperationResult{Operation: op}
	log := a.logger.With().Str("op", string(op.Kind)).Str("identity", op.Identity.Key()).Logger()

	switch op.Kind {
	case domain.OpCreate:
		res.RemoteID, res.Err = a.client.Create(ctx, op.Identity, op.Metadata)
		if res.Err == nil {
			log.Info().Str("remote_id", res.RemoteID).Msg("Registered peripheral")
		}

	case domain.OpUpdate:
		res.Err = a.client.Update(ctx, op.Identity, op.RemoteID, op.Metadata)
		if errors.Is(res.Err, nuvla.ErrNotFound) {
			log.Warn().Str("remote_id", op.RemoteID).Msg("Record no longer exists, will register again")
			res.Err = fmt.Errorf("%w: %w", ErrRecordGone, res.Err)
		} else if res.Err == nil {
			log.Info().Str("remote_id", op.RemoteID).Msg("Updated peripheral")
		}

	case domain.OpRemove:
		res.Err = a.client.Remove(ctx, op.Identity, op.RemoteID)
		if errors.Is(res.Err, nuvla.ErrNotFound) {
			log.Info().Str("remote_id", op.RemoteID).Msg("Record already gone")
			res.Err = nil
		} else if res.Err == nil {
			log.Info().Str("remote_id", op.RemoteID).Msg("Removed peripheral")
		}

	default:
		res.Err = fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	if res.Err != nil {
		log.Error().Err(res.Err).Msg("Registry operation failed, will retry next cycle")
	}
	return res
}
