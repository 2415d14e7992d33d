// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

// Package mocks provides testify mocks of the auth collaborator interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/commguard/commguard/internal/auth"
)

// Compile-time interface checks.
var (
	_ auth.AuditSink      = (*MockAuditSink)(nil)
	_ auth.Notifier       = (*MockNotifier)(nil)
	_ auth.PasswordHasher = (*MockPasswordHasher)(nil)
	_ auth.Observer       = (*MockObserver)(nil)
)

type cleanupT interface {
	mock.TestingT
	Cleanup(func())
}

// MockAuditSink is a mock auth.AuditSink.
type MockAuditSink struct {
	mock.Mock
}

// NewMockAuditSink creates a MockAuditSink that asserts its expectations on cleanup.
func NewMockAuditSink(t cleanupT) *MockAuditSink {
	m := &MockAuditSink{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Record records an audit event.
func (m *MockAuditSink) Record(ctx context.Context, event auth.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockNotifier is a mock auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a MockNotifier that asserts its expectations on cleanup.
func NewMockNotifier(t cleanupT) *MockNotifier {
	m := &MockNotifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Send delivers a message.
func (m *MockNotifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	args := m.Called(ctx, recipients, subject, body)
	return args.Error(0)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher that asserts its expectations on cleanup.
func NewMockPasswordHasher(t cleanupT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash derives a credential.
func (m *MockPasswordHasher) Hash(password string) (auth.Credential, error) {
	args := m.Called(password)
	return args.Get(0).(auth.Credential), args.Error(1)
}

// Verify checks a password against a credential.
func (m *MockPasswordHasher) Verify(password string, cred auth.Credential) (bool, error) {
	args := m.Called(password, cred)
	return args.Bool(0), args.Error(1)
}

// MockObserver is a mock auth.Observer.
type MockObserver struct {
	mock.Mock
}

// NewMockObserver creates a MockObserver that asserts its expectations on cleanup.
func NewMockObserver(t cleanupT) *MockObserver {
	m := &MockObserver{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// OperationCompleted reports an operation outcome.
func (m *MockObserver) OperationCompleted(operation string, kind auth.Kind) {
	m.Called(operation, kind)
}

// AccountLocked reports a lockout.
func (m *MockObserver) AccountLocked() {
	m.Called()
}
