// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commguard/commguard/pkg/errutil"
)

type fakeRunner struct {
	upErr          error
	downErr        error
	stepsErr       error
	version        uint
	versionErr     error
	dirty          bool
	forceErr       error
	closeSourceErr error
	closeDBErr     error
	forced         int
}

func (f *fakeRunner) Up() error                    { return f.upErr }
func (f *fakeRunner) Down() error                  { return f.downErr }
func (f *fakeRunner) Steps(int) error              { return f.stepsErr }
func (f *fakeRunner) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeRunner) Close() (error, error)        { return f.closeSourceErr, f.closeDBErr }
func (f *fakeRunner) Force(v int) error {
	f.forced = v
	return f.forceErr
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/testdb")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@h:5432/db", "pgx5://u:p@h:5432/db"},
		{"postgresql://u:p@h/db?sslmode=disable", "pgx5://u:p@h/db?sslmode=disable"},
		{"pgx5://h/db", "pgx5://h/db"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, migrateURL(tt.in))
		})
	}
}

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{runner: &fakeRunner{
		upErr:    migrate.ErrNoChange,
		downErr:  migrate.ErrNoChange,
		stepsErr: migrate.ErrNoChange,
	}}
	assert.NoError(t, m.Up())
	assert.NoError(t, m.Down())
	assert.NoError(t, m.Steps(0))
}

func TestMigrator_Errors(t *testing.T) {
	boom := errors.New("database locked")
	m := &Migrator{runner: &fakeRunner{
		upErr:      boom,
		downErr:    boom,
		stepsErr:   boom,
		versionErr: boom,
		forceErr:   boom,
	}}

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{"up", m.Up, "MIGRATION_UP_FAILED"},
		{"down", m.Down, "MIGRATION_DOWN_FAILED"},
		{"steps", func() error { return m.Steps(2) }, "MIGRATION_STEPS_FAILED"},
		{"version", func() error { _, _, err := m.Version(); return err }, "MIGRATION_VERSION_FAILED"},
		{"force", func() error { return m.Force(1) }, "MIGRATION_FORCE_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestMigrator_Version(t *testing.T) {
	m := &Migrator{runner: &fakeRunner{versionErr: migrate.ErrNilVersion}}
	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)

	m = &Migrator{runner: &fakeRunner{version: 2, dirty: true}}
	v, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.True(t, dirty)
}

func TestMigrator_Force(t *testing.T) {
	runner := &fakeRunner{}
	m := &Migrator{runner: runner}

	require.NoError(t, m.Force(2))
	assert.Equal(t, 2, runner.forced)

	err := m.Force(-1)
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
}

func TestMigrator_Close(t *testing.T) {
	src := errors.New("source close failed")
	db := errors.New("db close failed")

	tests := []struct {
		name      string
		runner    *fakeRunner
		component string
	}{
		{"source", &fakeRunner{closeSourceErr: src}, "source"},
		{"database", &fakeRunner{closeDBErr: db}, "database"},
		{"both", &fakeRunner{closeSourceErr: src, closeDBErr: db}, "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Migrator{runner: tt.runner}).Close()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
		})
	}

	assert.NoError(t, (&Migrator{runner: &fakeRunner{}}).Close())
}

func TestMigrator_Status(t *testing.T) {
	all, err := Migrations()
	require.NoError(t, err)
	require.Len(t, all, 3)

	t.Run("fresh database", func(t *testing.T) {
		m := &Migrator{runner: &fakeRunner{versionErr: migrate.ErrNilVersion}}
		status, err := m.Status()
		require.NoError(t, err)
		assert.Empty(t, status.Applied)
		assert.Equal(t, all, status.Pending)
	})

	t.Run("partially applied", func(t *testing.T) {
		m := &Migrator{runner: &fakeRunner{version: 1}}
		status, err := m.Status()
		require.NoError(t, err)
		assert.Equal(t, all[:1], status.Applied)
		assert.Equal(t, all[1:], status.Pending)
	})

	t.Run("version error", func(t *testing.T) {
		m := &Migrator{runner: &fakeRunner{versionErr: errors.New("connection lost")}}
		_, err := m.Status()
		require.Error(t, err)
		errutil.AssertErrorContext(t, err, "operation", "migration status")
	})
}

func TestOpenPool_InvalidURL(t *testing.T) {
	_, err := OpenPool(context.Background(), "://not a url", PoolOptions{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}
