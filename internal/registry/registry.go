package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/lavsmart/cyclebridge/internal/models"
)

var ErrMachineNotFound = errors.New("machine not registered")

// Registry is the immutable tenant/machine mapping loaded at startup.
// Tenants keep a stable order so credential probing is deterministic.
type Registry struct {
	tenants     map[string]models.TenantCredential
	tenantOrder []string
	machines    map[string]models.MachineRecord
}

type registryFile struct {
	Tenants  []models.TenantCredential `json:"tenants"`
	Machines []models.MachineRecord    `json:"machines"`
}

// LoadFile reads the registry JSON from disk. The result is read-only;
// a reload produces a new Registry, never mutates an existing one.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}

	r := &Registry{
		tenants:  make(map[string]models.TenantCredential, len(file.Tenants)),
		machines: make(map[string]models.MachineRecord, len(file.Machines)),
	}

	for _, t := range file.Tenants {
		if t.TenantID == "" || t.AccessToken == "" {
			return nil, fmt.Errorf("tenant %q missing id or access token", t.TenantID)
		}
		if _, dup := r.tenants[t.TenantID]; dup {
			return nil, fmt.Errorf("duplicate tenant %q", t.TenantID)
		}
		r.tenants[t.TenantID] = t
		r.tenantOrder = append(r.tenantOrder, t.TenantID)
	}

	for _, m := range file.Machines {
		if _, ok := r.tenants[m.TenantID]; !ok {
			return nil, fmt.Errorf("machine %q references unknown tenant %q", m.MachineID, m.TenantID)
		}
		if _, dup := r.machines[m.MachineID]; dup {
			return nil, fmt.Errorf("duplicate machine %q", m.MachineID)
		}
		r.machines[m.MachineID] = m
	}

	return r, nil
}

// Machine returns the record for a machine ID.
func (r *Registry) Machine(machineID string) (models.MachineRecord, error) {
	m, ok := r.machines[machineID]
	if !ok {
		return models.MachineRecord{}, fmt.Errorf("%w: %s", ErrMachineNotFound, machineID)
	}
	return m, nil
}

// TenantFor resolves the credential owning a machine.
func (r *Registry) TenantFor(machineID string) (models.TenantCredential, error) {
	m, err := r.Machine(machineID)
	if err != nil {
		return models.TenantCredential{}, err
	}
	return r.tenants[m.TenantID], nil
}

// Tenant returns a credential by tenant ID.
func (r *Registry) Tenant(tenantID string) (models.TenantCredential, bool) {
	t, ok := r.tenants[tenantID]
	return t, ok
}

// Tenants returns all credentials in declaration order. Probing relies on
// this order being stable across calls.
func (r *Registry) Tenants() []models.TenantCredential {
	out := make([]models.TenantCredential, 0, len(r.tenantOrder))
	for _, id := range r.tenantOrder {
		out = append(out, r.tenants[id])
	}
	return out
}
