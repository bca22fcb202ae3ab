package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/givebox/givebox/internal/audit/domain"
	"github.com/givebox/givebox/internal/audit/repository"
	obscontext "github.com/givebox/givebox/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	}), db
}

func TestAuditLogWritesEntry(t *testing.T) {
	svc, _ := newTestService(t)

	targetID := "123"
	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	err := svc.AuditLog(ctx, "donation.captured", "donation", &targetID, map[string]any{
		"amount_received": 1060,
	})
	require.NoError(t, err)

	entries, err := svc.ListByTarget(context.Background(), "donation", targetID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "donation.captured", entry.Action)
	assert.Equal(t, "donation", entry.TargetType)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.AuditLog(context.Background(), "  ", "donation", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}
