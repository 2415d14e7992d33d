// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commguard/commguard/internal/auth"
	"github.com/commguard/commguard/pkg/errutil"
)

var accountCols = []string{
	"id", "full_name", "username", "email", "phone", "gender",
	"credential", "password_history", "failed_attempts", "active",
	"session_token_hash", "logged_in", "last_login", "created_at", "updated_at",
}

func sampleAccount() *auth.Account {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	cred := auth.Credential{Algorithm: auth.AlgorithmPBKDF2SHA256, Iterations: 100000, Salt: "aa", Hash: "bb"}
	return &auth.Account{
		ID:              ulid.Make(),
		FullName:        "Alice Example",
		Username:        "alice",
		Email:           "alice@example.com",
		Gender:          auth.GenderFemale,
		Credential:      cred,
		PasswordHistory: auth.PasswordHistory{cred},
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func accountRows(t *testing.T, a *auth.Account) *pgxmock.Rows {
	t.Helper()
	cred, err := json.Marshal(a.Credential)
	require.NoError(t, err)
	history, err := json.Marshal(a.PasswordHistory)
	require.NoError(t, err)
	return pgxmock.NewRows(accountCols).AddRow(
		a.ID.String(), a.FullName, a.Username, a.Email, a.Phone, string(a.Gender),
		cred, history, a.FailedAttempts, a.Active,
		nullableString(a.SessionTokenHash), a.LoggedIn, a.LastLogin, a.CreatedAt, a.UpdatedAt,
	)
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestStore_WithinTx_CommitsLockedUpdate(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	acct := sampleAccount()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM accounts\s+WHERE LOWER\(username\) = LOWER\(\$1\)\s+FOR UPDATE`).
		WithArgs("alice").
		WillReturnRows(accountRows(t, acct))
	mock.ExpectExec(`UPDATE accounts SET`).
		WithArgs(acct.ID.String(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 1, true, pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	store := NewStore(mock)
	err := store.WithinTx(ctx, func(ctx context.Context, repos auth.Repositories) error {
		got, err := repos.Accounts().GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)
		assert.Equal(t, acct.Credential, got.Credential)
		assert.Len(t, got.PasswordHistory, 1)
		assert.Empty(t, got.SessionTokenHash)

		got.FailedAttempts = 1
		return repos.Accounts().Update(ctx, got)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("domain failure")
	err := NewStore(mock).WithinTx(ctx, func(context.Context, auth.Repositories) error {
		return sentinel
	})
	assert.Same(t, sentinel, err, "fn errors are returned unchanged")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTx_RetriesSerializationFailure(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	serialization := &pgconn.PgError{Code: pgerrcode.SerializationFailure}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM password_resets`).WillReturnError(serialization)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM password_resets`).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCommit()

	var deleted int64
	attempts := 0
	err := NewStore(mock, WithRetry(2, time.Millisecond)).WithinTx(ctx, func(ctx context.Context, repos auth.Repositories) error {
		attempts++
		var err error
		deleted, err = repos.Resets().DeleteExpired(ctx, time.Now())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(4), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTx_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	deadlock := &pgconn.PgError{Code: pgerrcode.DeadlockDetected}

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM password_resets`).WillReturnError(deadlock)
		mock.ExpectRollback()
	}

	err := NewStore(mock, WithRetry(1, time.Millisecond)).WithinTx(ctx, func(ctx context.Context, repos auth.Repositories) error {
		_, err := repos.Resets().DeleteExpired(ctx, time.Now())
		return err
	})
	require.Error(t, err)
	assert.Equal(t, auth.KindDependency, auth.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTx_BeginAndCommitFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("begin", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		err := NewStore(mock).WithinTx(ctx, func(context.Context, auth.Repositories) error { return nil })
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "STORE_TX_BEGIN_FAILED")
		assert.ErrorIs(t, err, auth.ErrDependency)
	})

	t.Run("commit", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

		err := NewStore(mock).WithinTx(ctx, func(context.Context, auth.Repositories) error { return nil })
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "STORE_TX_COMMIT_FAILED")
		assert.ErrorIs(t, err, auth.ErrDependency)
	})
}

func TestAccountRepository_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM accounts`).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

		repo := &AccountRepository{q: mock}
		_, err := repo.GetByLogin(ctx, "ghost")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
	})

	t.Run("unique violation is a conflict", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO accounts`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		repo := &AccountRepository{q: mock}
		err := repo.Create(ctx, sampleAccount())
		assert.ErrorIs(t, err, auth.ErrConflict)
	})

	t.Run("other insert failure is a dependency error", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO accounts`).WillReturnError(errors.New("disk full"))

		repo := &AccountRepository{q: mock}
		err := repo.Create(ctx, sampleAccount())
		assert.Equal(t, auth.KindDependency, auth.KindOf(err))
	})

	t.Run("update of missing row", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE accounts SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := &AccountRepository{q: mock}
		err := repo.Update(ctx, sampleAccount())
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("empty session hash never queries", func(t *testing.T) {
		mock := newMock(t)
		repo := &AccountRepository{q: mock}
		_, err := repo.GetBySessionTokenHash(ctx, "")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt credential json", func(t *testing.T) {
		mock := newMock(t)
		a := sampleAccount()
		rows := pgxmock.NewRows(accountCols).AddRow(
			a.ID.String(), a.FullName, a.Username, a.Email, a.Phone, string(a.Gender),
			[]byte("{not json"), []byte("[]"), 0, true,
			(*string)(nil), false, (*time.Time)(nil), a.CreatedAt, a.UpdatedAt,
		)
		mock.ExpectQuery(`FROM accounts`).WillReturnRows(rows)

		repo := &AccountRepository{q: mock}
		_, err := repo.GetByID(ctx, a.ID)
		assert.Equal(t, auth.KindDependency, auth.KindOf(err))
	})
}

func TestPasswordResetRepository(t *testing.T) {
	ctx := context.Background()
	cols := []string{"id", "account_id", "token_hash", "expires_at", "validated", "used", "created_at"}

	t.Run("get by token hash", func(t *testing.T) {
		mock := newMock(t)
		id, accountID := ulid.Make(), ulid.Make()
		expires := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`FROM password_resets\s+WHERE token_hash = \$1\s+FOR UPDATE`).
			WithArgs("hash").
			WillReturnRows(pgxmock.NewRows(cols).
				AddRow(id.String(), accountID.String(), "hash", expires, true, false, expires.Add(-time.Hour)))

		repo := &PasswordResetRepository{q: mock}
		got, err := repo.GetByTokenHash(ctx, "hash")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, accountID, got.AccountID)
		assert.True(t, got.Validated)
		assert.False(t, got.Used)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM password_resets`).WillReturnError(pgx.ErrNoRows)

		repo := &PasswordResetRepository{q: mock}
		_, err := repo.GetByTokenHash(ctx, "nope")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("invalidate by account", func(t *testing.T) {
		mock := newMock(t)
		accountID := ulid.Make()
		mock.ExpectExec(`UPDATE password_resets SET used = TRUE`).
			WithArgs(accountID.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))

		repo := &PasswordResetRepository{q: mock}
		n, err := repo.InvalidateByAccount(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("update flags", func(t *testing.T) {
		mock := newMock(t)
		reset := &auth.PasswordReset{ID: ulid.Make(), Validated: true, Used: true}
		mock.ExpectExec(`UPDATE password_resets SET validated = \$2, used = \$3`).
			WithArgs(reset.ID.String(), true, true).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := &PasswordResetRepository{q: mock}
		require.NoError(t, repo.Update(ctx, reset))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditWriter(t *testing.T) {
	ctx := context.Background()

	t.Run("writes a batch in one transaction", func(t *testing.T) {
		mock := newMock(t)
		accountID := ulid.Make()
		events := []auth.AuditEvent{
			{ID: ulid.Make(), AccountID: accountID, Action: auth.ActionLogin, Timestamp: time.Now()},
			{ID: ulid.Make(), AccountID: accountID, Action: auth.ActionLogout, Timestamp: time.Now()},
		}

		mock.ExpectBegin()
		for _, e := range events {
			mock.ExpectExec(`INSERT INTO audit_logs`).
				WithArgs(e.ID.String(), pgxmock.AnyArg(), e.Action, e.Timestamp).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mock.ExpectCommit()

		require.NoError(t, NewAuditWriter(mock).Write(ctx, events))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO audit_logs`).WillReturnError(errors.New("table missing"))
		mock.ExpectRollback()

		err := NewAuditWriter(mock).Record(ctx, auth.AuditEvent{Action: auth.ActionRegister})
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrDependency)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list by account", func(t *testing.T) {
		mock := newMock(t)
		accountID := ulid.Make()
		ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT id, action, created_at FROM audit_logs`).
			WithArgs(accountID.String(), 10).
			WillReturnRows(pgxmock.NewRows([]string{"id", "action", "created_at"}).
				AddRow("01J0000000000000000000000B", auth.ActionLogout, ts).
				AddRow("01J0000000000000000000000A", auth.ActionLogin, ts.Add(-time.Minute)))

		entries, err := ListByAccount(ctx, mock, accountID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, auth.ActionLogout, entries[0].Action)
	})
}
