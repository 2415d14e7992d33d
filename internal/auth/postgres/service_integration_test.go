// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/commguard/commguard/internal/auth"
	"github.com/commguard/commguard/internal/auth/postgres"
	"github.com/commguard/commguard/internal/store"
)

const password = "Str0ng!Pass"

type outbox struct {
	mu   sync.Mutex
	sent int
}

func (o *outbox) Send(_ context.Context, _ []string, _, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent++
	return nil
}

var _ = Describe("Service on PostgreSQL", Ordered, func() {
	var (
		ctx       context.Context
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
		svc       *auth.Service
		mail      *outbox
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("commguard_test"),
			tcpostgres.WithUsername("commguard"),
			tcpostgres.WithPassword("commguard"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.OpenPool(ctx, connStr, store.PoolOptions{MaxConns: 16})
		Expect(err).NotTo(HaveOccurred())

		hasher, err := auth.NewKDFHasher(auth.HashParams{
			Algorithm:  auth.AlgorithmPBKDF2SHA256,
			Iterations: 1000,
			SaltLength: 16,
		})
		Expect(err).NotTo(HaveOccurred())

		mail = &outbox{}
		svc, err = auth.NewServiceWithLogger(auth.Dependencies{
			Store:    postgres.NewStore(pool, postgres.WithRetry(10, 5*time.Millisecond)),
			Hasher:   hasher,
			Audit:    postgres.NewAuditWriter(pool),
			Notifier: mail,
		}, auth.DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	register := func(username, email string) {
		_, err := svc.Register(ctx, auth.RegisterRequest{
			FullName:        "Integration " + username,
			Username:        username,
			Email:           email,
			Password:        password,
			ConfirmPassword: password,
			Gender:          "Other",
		})
		Expect(err).NotTo(HaveOccurred())
	}

	It("registers, logs in and logs out", func() {
		register("alice", "alice@example.com")

		result, err := svc.Login(ctx, auth.LoginRequest{Login: "ALICE@example.com", Password: password})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Token).NotTo(BeEmpty())

		acct, err := svc.Authenticate(ctx, result.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(acct.Username).To(Equal("alice"))
		Expect(acct.LastLogin).NotTo(BeNil())

		Expect(svc.Logout(ctx, result.Token)).To(Succeed())
		_, err = svc.Authenticate(ctx, result.Token)
		Expect(auth.KindOf(err)).To(Equal(auth.KindNotFound))

		entries, err := postgres.ListByAccount(ctx, pool, acct.ID, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(3))
		Expect(entries[0].Action).To(Equal(auth.ActionLogout))
	})

	It("rejects duplicate usernames regardless of case", func() {
		_, err := svc.Register(ctx, auth.RegisterRequest{
			FullName:        "Other Alice",
			Username:        "Alice",
			Email:           "alice2@example.com",
			Password:        password,
			ConfirmPassword: password,
			Gender:          "Female",
		})
		Expect(auth.KindOf(err)).To(Equal(auth.KindConflict))
	})

	It("locks exactly once under concurrent failed logins", func() {
		register("bob", "bob@example.com")

		const n = 12
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			kinds = map[auth.Kind]int{}
		)
		for range n {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := svc.Login(ctx, auth.LoginRequest{Login: "bob", Password: "Wrong1!pass"})
				mu.Lock()
				kinds[auth.KindOf(err)]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		Expect(kinds[auth.KindAuthentication]).To(Equal(4))
		Expect(kinds[auth.KindLocked]).To(Equal(n - 4))

		_, err := svc.Login(ctx, auth.LoginRequest{Login: "bob", Password: password})
		Expect(auth.KindOf(err)).To(Equal(auth.KindLocked))
	})

	It("resets a password with a single-use token", func() {
		register("carol", "carol@example.com")

		token, err := svc.RequestPasswordReset(ctx, "Carol@Example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(mail.sent).To(Equal(1))

		username, err := svc.ValidateResetToken(ctx, token)
		Expect(err).NotTo(HaveOccurred())
		Expect(username).To(Equal("carol"))

		const next = "N3w!Secret"
		Expect(svc.ConfirmPasswordReset(ctx, auth.ConfirmResetRequest{
			Token: token, NewPassword: next, ConfirmPassword: next,
		})).To(Succeed())

		err = svc.ConfirmPasswordReset(ctx, auth.ConfirmResetRequest{
			Token: token, NewPassword: "An0ther!One", ConfirmPassword: "An0ther!One",
		})
		Expect(auth.KindOf(err)).To(Equal(auth.KindNotFound))

		_, err = svc.Login(ctx, auth.LoginRequest{Login: "carol", Password: next})
		Expect(err).NotTo(HaveOccurred())
	})

	It("keeps audit rows after the account is deleted", func() {
		register("dave", "dave@example.com")

		st := postgres.NewStore(pool)
		var id ulid.ULID
		Expect(st.WithinTx(ctx, func(ctx context.Context, repos auth.Repositories) error {
			acct, err := repos.Accounts().GetByUsername(ctx, "dave")
			if err != nil {
				return err
			}
			id = acct.ID
			return repos.Accounts().Delete(ctx, acct.ID)
		})).To(Succeed())

		var count int
		Expect(pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM audit_logs WHERE account_id = $1`,
			id.String()).Scan(&count)).To(Succeed())
		Expect(count).To(Equal(1))
	})
})
