package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/donorbook/internal/audit/domain"
	"github.com/smallbiznis/donorbook/internal/audit/repository"
	"github.com/smallbiznis/donorbook/internal/clock"
	obscontext "github.com/smallbiznis/donorbook/internal/observability/context"
	pkgdb "github.com/smallbiznis/donorbook/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAudit(t *testing.T) auditdomain.Service {
	t.Helper()
	conn, err := pkgdb.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	fake.Step = time.Second
	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: fake,
	})
}

func TestAuditLog_RecordsAndMasks(t *testing.T) {
	svc := setupAudit(t)
	ctx := obscontext.WithRequestID(context.Background(), "req-1")

	err := svc.AuditLog(ctx, auditdomain.ActionTransactionCreated, auditdomain.TargetTransaction, "TX1", map[string]any{
		"amount":      "100",
		"donor_email": "ada@example.org",
	})
	require.NoError(t, err)

	logs, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TargetID: "TX1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "req-1", logs[0].RequestID)
	assert.Equal(t, "100", logs[0].Metadata["amount"])
	assert.Equal(t, "****.org", logs[0].Metadata["donor_email"])
}

func TestAuditLog_RejectsEmptyAction(t *testing.T) {
	svc := setupAudit(t)
	assert.ErrorIs(t, svc.AuditLog(context.Background(), " ", "", "", nil), auditdomain.ErrInvalidAction)
}

func TestList_NewestFirstAndFiltered(t *testing.T) {
	svc := setupAudit(t)
	ctx := context.Background()

	require.NoError(t, svc.AuditLog(ctx, auditdomain.ActionTransactionCreated, auditdomain.TargetTransaction, "TX1", nil))
	require.NoError(t, svc.AuditLog(ctx, auditdomain.ActionTransactionReversed, auditdomain.TargetTransaction, "TX1", nil))
	require.NoError(t, svc.AuditLog(ctx, auditdomain.ActionLedgerRebuilt, auditdomain.TargetLedger, "full", nil))

	logs, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TargetType: auditdomain.TargetTransaction, TargetID: "TX1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, auditdomain.ActionTransactionReversed, logs[0].Action)

	logs, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Limit: -1})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidLimit)
}
