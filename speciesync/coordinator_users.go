// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"strings"
)

// UserInput is the payload for creating a user
type UserInput struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
	IsActive *bool  `json:"is_active"`
}

// UserPatch carries the fields to change; nil fields are left as they are.
type UserPatch struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
}

// UserMutation is the outcome of a user mutation
type UserMutation struct {
	User *UserRecord
	MutationResult
}

func (c *Coordinator) CreateUser(ctx context.Context, in UserInput) (*UserMutation, error) {
	name, role := strings.TrimSpace(in.Name), strings.TrimSpace(in.Role)
	if err := validateNewUser(name, role, in.Password); err != nil {
		return nil, err
	}
	hash, err := c.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	rec, err := c.store.InsertUser(ctx, UserFields{Name: name, Role: role, IsActive: active, PasswordHash: hash})
	if err != nil {
		return nil, err
	}
	c.logger.Info("User created", "user_id", rec.UserID, "role", rec.Role)
	return &UserMutation{User: rec, MutationResult: c.recordBestEffort(ctx, MetricsOpUsers, EntityUsers, rec.UserID, OpCreate)}, nil
}

func (c *Coordinator) UpdateUser(ctx context.Context, id int64, patch UserPatch) (*UserMutation, error) {
	cur, err := c.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	f := UserFields{Name: cur.Name, Role: cur.Role, IsActive: cur.IsActive, PasswordHash: cur.PasswordHash}
	if patch.Name != nil {
		f.Name = strings.TrimSpace(*patch.Name)
		if f.Name == "" {
			return nil, &ValidationError{Fields: []string{"name"}}
		}
	}
	if patch.Role != nil {
		f.Role = strings.TrimSpace(*patch.Role)
		if !isKnownRole(f.Role) {
			return nil, &ValidationError{Fields: []string{"role"}, Message: "unknown role: " + f.Role}
		}
	}
	if patch.IsActive != nil {
		f.IsActive = *patch.IsActive
	}
	if patch.Password != nil && *patch.Password != "" {
		hash, err := c.hasher.Hash(*patch.Password)
		if err != nil {
			return nil, err
		}
		f.PasswordHash = hash
	}
	rec, err := c.store.UpdateUser(ctx, id, f)
	if err != nil {
		return nil, err
	}
	return &UserMutation{User: rec, MutationResult: c.recordBestEffort(ctx, MetricsOpUsers, EntityUsers, id, OpUpdate)}, nil
}

func (c *Coordinator) DeleteUser(ctx context.Context, id int64) (*UserMutation, error) {
	if err := c.store.DeleteUser(ctx, id); err != nil {
		return nil, err
	}
	c.logger.Info("User deleted", "user_id", id)
	return &UserMutation{MutationResult: c.recordBestEffort(ctx, MetricsOpUsers, EntityUsers, id, OpDelete)}, nil
}
