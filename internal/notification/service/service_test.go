package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	clientrepository "github.com/smallbiznis/backoffice/internal/client/repository"
	"github.com/smallbiznis/backoffice/internal/clock"
	notificationdomain "github.com/smallbiznis/backoffice/internal/notification/domain"
	"github.com/smallbiznis/backoffice/internal/notification/repository"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (notificationdomain.Service, *gorm.DB, []clientdomain.User) {
	t.Helper()
	conn, err := db.NewTest(&clientdomain.User{}, &notificationdomain.Notification{})
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	authz, err := authorization.NewLocal(zap.NewNop(), nil)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clientID := snowflake.ID(500)
	users := []clientdomain.User{
		{ID: node.Generate(), Email: "a1@backoffice.io", Name: "Admin 1", Role: clientdomain.UserRoleAdmin, CreatedAt: now},
		{ID: node.Generate(), Email: "a2@backoffice.io", Name: "Admin 2", Role: clientdomain.UserRoleAdmin, CreatedAt: now},
		{ID: node.Generate(), ClientID: &clientID, Email: "c@acme.io", Name: "Client", Role: clientdomain.UserRoleClient, CreatedAt: now},
	}
	require.NoError(t, conn.Create(&users).Error)

	svc := NewService(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(now),
		Authz:      authz,
		Repo:       repository.Provide(),
		ClientRepo: clientrepository.Provide(),
	})
	return svc, conn, users
}

func adminCtx(id snowflake.ID) context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindAdmin, ID: id})
}

func clientCtx(clientID snowflake.ID) context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindClient, ID: 9, ClientID: clientID})
}

func TestNotifyAdminsFansOutPerAdmin(t *testing.T) {
	svc, conn, users := newTestService(t)
	demandID := snowflake.ID(42)

	err := svc.NotifyAdmins(context.Background(), notificationdomain.Message{
		Type:     notificationdomain.TypeDemandCompleted,
		Title:    "Demand completed",
		Body:     "Fix DNS was completed",
		DemandID: &demandID,
	})
	require.NoError(t, err)

	var rows []notificationdomain.Notification
	require.NoError(t, conn.Order("id asc").Find(&rows).Error)
	require.Len(t, rows, 2)
	for i, row := range rows {
		require.NotNil(t, row.UserID)
		assert.Equal(t, users[i].ID, *row.UserID)
		assert.Nil(t, row.ClientID)
		assert.Equal(t, demandID, *row.DemandID)
	}

	count, err := svc.CountUnread(adminCtx(users[0].ID))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestNotifyClientRejectsMissingTitle(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.NotifyClient(context.Background(), 500, notificationdomain.Message{Type: notificationdomain.TypePaymentPaid})
	assert.ErrorIs(t, err, notificationdomain.ErrInvalidTitle)
}

func TestClientInboxLifecycle(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := clientCtx(500)

	require.NoError(t, svc.NotifyClient(context.Background(), 500, notificationdomain.Message{
		Type:  notificationdomain.TypeDemandApproved,
		Title: "Demand approved",
	}))
	require.NoError(t, svc.NotifyClient(context.Background(), 501, notificationdomain.Message{
		Type:  notificationdomain.TypeDemandApproved,
		Title: "Someone else",
	}))

	list, err := svc.ListForActor(ctx, notificationdomain.ListNotificationRequest{})
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	id := list.Notifications[0].ID.String()

	unread, err := svc.CountUnread(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	read, err := svc.MarkRead(ctx, id)
	require.NoError(t, err)
	assert.True(t, read.Read)

	unread, err = svc.CountUnread(ctx)
	require.NoError(t, err)
	assert.Zero(t, unread)

	archived, err := svc.Archive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notificationdomain.NotificationStatusArchived, archived.Status)

	list, err = svc.ListForActor(ctx, notificationdomain.ListNotificationRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Notifications)

	list, err = svc.ListForActor(ctx, notificationdomain.ListNotificationRequest{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, list.Notifications, 1)

	_, err = svc.MarkRead(adminCtx(users[0].ID), id)
	assert.ErrorIs(t, err, notificationdomain.ErrNotificationNotFound)
	_, err = svc.MarkRead(clientCtx(501), id)
	assert.ErrorIs(t, err, notificationdomain.ErrNotificationNotFound)
}
