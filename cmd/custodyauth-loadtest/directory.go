package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
)

// directory is an in-memory user, device and two-factor store.
type directory struct {
	mu      sync.RWMutex
	byEmail map[string]*custodyauth.UserRecord
	byID    map[int64]*custodyauth.UserRecord
	devices map[string]custodyauth.DeviceCredential
}

func newDirectory(n int, passwordHash string) *directory {
	d := &directory{
		byEmail: make(map[string]*custodyauth.UserRecord, n),
		byID:    make(map[int64]*custodyauth.UserRecord, n),
		devices: make(map[string]custodyauth.DeviceCredential, n),
	}
	for i := 1; i <= n; i++ {
		u := &custodyauth.UserRecord{UserID: int64(i), Email: userEmail(i), PasswordHash: passwordHash}
		d.byEmail[u.Email] = u
		d.byID[u.UserID] = u
	}
	return d
}

func (d *directory) FindUserByEmail(_ context.Context, email string) (*custodyauth.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, custodyauth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *directory) FindUserByID(_ context.Context, id int64) (*custodyauth.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, custodyauth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *directory) FindDelegationByUserID(_ context.Context, id int64) (*custodyauth.DelegatedAuthState, error) {
	return &custodyauth.DelegatedAuthState{
		UserID:             id,
		PrivateKey:         "load-private-key",
		ExternalCustomerID: fmt.Sprintf("cust-%d", id),
	}, nil
}

func (d *directory) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return custodyauth.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (d *directory) UpsertCredential(_ context.Context, cred custodyauth.DeviceCredential) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cred.RevokedAt = nil
	d.devices[cred.DeviceID] = cred
	return nil
}

func (d *directory) FindActiveCredential(_ context.Context, id string) (*custodyauth.DeviceCredential, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.devices[id]
	if !ok || c.RevokedAt != nil {
		return nil, custodyauth.ErrDeviceNotEnrolled
	}
	return &c, nil
}

func (d *directory) TouchCredential(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.devices[id]
	if !ok {
		return custodyauth.ErrDeviceNotEnrolled
	}
	c.LastUsedAt = &at
	d.devices[id] = c
	return nil
}

func (d *directory) RevokeCredential(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.devices[id]
	if !ok || c.RevokedAt != nil {
		return custodyauth.ErrDeviceNotEnrolled
	}
	c.RevokedAt = &at
	d.devices[id] = c
	return nil
}

// Load users never enable a second factor.
func (d *directory) FindTwoFactor(context.Context, int64) (*custodyauth.TwoFactorConfig, error) {
	return nil, custodyauth.ErrNotFound
}

func (d *directory) ActivateTwoFactor(context.Context, custodyauth.TwoFactorConfig) error {
	return custodyauth.ErrConflict
}

func (d *directory) DisableTwoFactor(context.Context, int64) error {
	return custodyauth.ErrNotFound
}
