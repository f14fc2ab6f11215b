// Package resolver maps a gateway payment notification to the tenant and
// machine it belongs to. Two strategies exist behind one interface:
// decoding the external reference when one is available (one direct
// lookup under the owning tenant's credential), and probing every tenant
// credential in registry order when it is not.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/gateway"
	"github.com/lavsmart/cyclebridge/internal/reference"
	"github.com/lavsmart/cyclebridge/internal/registry"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

var ErrNotResolved = errors.New("payment not recognized by any tenant")

// Resolution is the outcome of mapping one payment to a tenant/machine.
type Resolution struct {
	TenantID  string
	MachineID string
	// Minutes is set when the reference carried a numeric duration.
	Minutes int
	// Dry is set when the reference carried the dry-cycle token.
	Dry    bool
	Amount float64
	Status string
}

type Resolver interface {
	// Resolve maps a payment ID, and optionally its pre-encoded
	// reference, to a Resolution or a typed failure.
	Resolve(ctx context.Context, paymentID, encodedRef string) (*Resolution, error)
}

// ReferenceResolver decodes the reference to find the owning tenant, then
// confirms the payment status with one lookup under that tenant's
// credential.
type ReferenceResolver struct {
	registry *registry.Registry
	client   gateway.Client
}

func NewReferenceResolver(reg *registry.Registry, client gateway.Client) *ReferenceResolver {
	return &ReferenceResolver{registry: reg, client: client}
}

func (r *ReferenceResolver) Resolve(ctx context.Context, paymentID, encodedRef string) (*Resolution, error) {
	decoded, err := reference.Decode(encodedRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotResolved, err)
	}

	tenant, err := r.registry.TenantFor(decoded.MachineID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotResolved, err)
	}

	payment, err := r.client.GetPaymentByID(ctx, tenant.AccessToken, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup under tenant %s: %v", ErrNotResolved, tenant.TenantID, err)
	}

	return &Resolution{
		TenantID:  tenant.TenantID,
		MachineID: decoded.MachineID,
		Minutes:   decoded.Minutes,
		Dry:       decoded.Dry,
		Amount:    payment.Amount,
		Status:    payment.Status,
	}, nil
}

// ProbingResolver tries every tenant credential in registry order and
// accepts the first account that reports the payment approved. Per-tenant
// failures are swallowed; they mean "not this account". Sound only
// because payment IDs are globally unique in the gateway's ID space.
type ProbingResolver struct {
	registry *registry.Registry
	client   gateway.Client
}

func NewProbingResolver(reg *registry.Registry, client gateway.Client) *ProbingResolver {
	return &ProbingResolver{registry: reg, client: client}
}

func (r *ProbingResolver) Resolve(ctx context.Context, paymentID, _ string) (*Resolution, error) {
	for _, tenant := range r.registry.Tenants() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payment, err := r.client.GetPaymentByID(ctx, tenant.AccessToken, paymentID)
		if err != nil {
			telemetry.Logger.Debug("Probe miss",
				zap.String("tenant_id", tenant.TenantID),
				zap.String("payment_id", paymentID),
				zap.Error(err),
			)
			continue
		}
		if payment.Status != gateway.StatusApproved {
			continue
		}

		res := &Resolution{
			TenantID: tenant.TenantID,
			Amount:   payment.Amount,
			Status:   payment.Status,
		}

		if payment.ExternalReference != "" {
			decoded, err := reference.Decode(payment.ExternalReference)
			if err != nil {
				return nil, fmt.Errorf("%w: reference %q: %v", ErrNotResolved, payment.ExternalReference, err)
			}
			if err := r.checkOwnership(decoded.MachineID, tenant.TenantID); err != nil {
				return nil, err
			}
			res.MachineID = decoded.MachineID
			res.Minutes = decoded.Minutes
			res.Dry = decoded.Dry
		}

		return res, nil
	}

	return nil, fmt.Errorf("%w: payment %s", ErrNotResolved, paymentID)
}

func (r *ProbingResolver) checkOwnership(machineID, tenantID string) error {
	machine, err := r.registry.Machine(machineID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotResolved, err)
	}
	if machine.TenantID != tenantID {
		return fmt.Errorf("%w: machine %s not owned by tenant %s", ErrNotResolved, machineID, tenantID)
	}
	return nil
}

// ChainResolver prefers the reference path and keeps probing as the
// fallback for notifications that arrive without a usable reference.
type ChainResolver struct {
	ref     *ReferenceResolver
	probing *ProbingResolver
}

func NewChainResolver(ref *ReferenceResolver, probing *ProbingResolver) *ChainResolver {
	return &ChainResolver{ref: ref, probing: probing}
}

func (r *ChainResolver) Resolve(ctx context.Context, paymentID, encodedRef string) (*Resolution, error) {
	if encodedRef != "" {
		res, err := r.ref.Resolve(ctx, paymentID, encodedRef)
		if err == nil {
			return res, nil
		}
		telemetry.Logger.Warn("Reference resolution failed, falling back to probing",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
	}
	return r.probing.Resolve(ctx, paymentID, "")
}
