package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referralpay/internal/commission"
	"referralpay/internal/models"
	"referralpay/internal/store"
)

type stubTeamUsers struct {
	users     map[string]models.User
	rows      []store.DownlineMember
	gotCode   string
	gotDepth  int
	downlines int
}

func (s *stubTeamUsers) GetByID(_ context.Context, userID string) (models.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *stubTeamUsers) Downline(_ context.Context, code string, maxDepth int) ([]store.DownlineMember, error) {
	s.gotCode, s.gotDepth = code, maxDepth
	s.downlines++
	return s.rows, nil
}

func member(id, code, parent string, level int) store.DownlineMember {
	return store.DownlineMember{UserID: id, Username: "user-" + id, ReferralCode: code, ReferredByCode: parent, Status: models.UserStatusActive, Level: level}
}

func newTeamFixture(rows ...store.DownlineMember) (*stubTeamUsers, *TeamService) {
	users := &stubTeamUsers{
		users: map[string]models.User{"root": {ID: "root", ReferralCode: "ROOT0001"}},
		rows:  rows,
	}
	return users, NewTeamService(users)
}

func TestTeamTreeNestsByReferrer(t *testing.T) {
	users, svc := newTeamFixture(
		member("a", "AAAA0001", "ROOT0001", 1),
		member("b", "BBBB0001", "ROOT0001", 1),
		member("c", "CCCC0001", "AAAA0001", 2),
		member("d", "DDDD0001", "CCCC0001", 3),
	)

	tree, err := svc.Tree(context.Background(), "root", 3)
	require.NoError(t, err)

	assert.Equal(t, "ROOT0001", users.gotCode)
	assert.Equal(t, 3, users.gotDepth)
	assert.Equal(t, 4, tree.Size)
	require.Len(t, tree.Members, 2)
	assert.Equal(t, "a", tree.Members[0].UserID)
	require.Len(t, tree.Members[0].Children, 1)
	assert.Equal(t, "c", tree.Members[0].Children[0].UserID)
	require.Len(t, tree.Members[0].Children[0].Children, 1)
	assert.Equal(t, "d", tree.Members[0].Children[0].Children[0].UserID)
	assert.Empty(t, tree.Members[1].Children)
}

func TestTeamTreeToleratesCyclicRows(t *testing.T) {
	_, svc := newTeamFixture(
		member("a", "AAAA0001", "ROOT0001", 1),
		member("b", "BBBB0001", "AAAA0001", 2),
		member("a", "AAAA0001", "BBBB0001", 3),
		member("root", "ROOT0001", "BBBB0001", 3),
		member("s", "SELF0001", "SELF0001", 2),
	)

	tree, err := svc.Tree(context.Background(), "root", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, tree.Size)
	require.Len(t, tree.Members, 2)
	assert.Equal(t, "a", tree.Members[0].UserID)
	require.Len(t, tree.Members[0].Children, 1)
	assert.Equal(t, "b", tree.Members[0].Children[0].UserID)
	assert.Empty(t, tree.Members[0].Children[0].Children)
	assert.Equal(t, "s", tree.Members[1].UserID)
	assert.Empty(t, tree.Members[1].Children)
}

func TestTeamTreeDepthBounds(t *testing.T) {
	users, svc := newTeamFixture()
	ctx := context.Background()

	tree, err := svc.Tree(ctx, "root", 0)
	require.NoError(t, err)
	assert.Equal(t, commission.MaxTier, users.gotDepth)
	assert.Equal(t, commission.MaxTier, tree.Depth)

	_, err = svc.Tree(ctx, "root", 50)
	require.NoError(t, err)
	assert.Equal(t, MaxTeamDepth, users.gotDepth)
}

func TestTeamTreeEmpty(t *testing.T) {
	_, svc := newTeamFixture()

	tree, err := svc.Tree(context.Background(), "root", 2)
	require.NoError(t, err)
	assert.Zero(t, tree.Size)
	assert.NotNil(t, tree.Members)
	assert.Empty(t, tree.Members)
}

func TestTeamTreeUnknownUser(t *testing.T) {
	users, svc := newTeamFixture()

	_, err := svc.Tree(context.Background(), "ghost", 2)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Zero(t, users.downlines)
}
