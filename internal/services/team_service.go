package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"referralpay/internal/commission"
	"referralpay/internal/models"
	"referralpay/internal/store"
)

const MaxTeamDepth = 10

type TeamUserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
	Downline(ctx context.Context, code string, maxDepth int) ([]store.DownlineMember, error)
}

// TeamNode is one member of a downline. Email is left out so a referrer
// never sees contact details of people further down.
type TeamNode struct {
	UserID       string      `json:"id"`
	Username     string      `json:"username"`
	ReferralCode string      `json:"referral_code"`
	Status       string      `json:"status"`
	Level        int         `json:"level"`
	JoinedAt     time.Time   `json:"joined_at"`
	Children     []*TeamNode `json:"children"`
}

type TeamTree struct {
	ReferralCode string      `json:"referral_code"`
	Depth        int         `json:"depth"`
	Size         int         `json:"size"`
	Members      []*TeamNode `json:"members"`
}

type TeamService struct {
	users TeamUserStore
}

func NewTeamService(users TeamUserStore) *TeamService {
	return &TeamService{users: users}
}

// Tree returns the caller's downline nested by referrer. depth <= 0 means
// the commission depth; anything above MaxTeamDepth is capped.
func (s *TeamService) Tree(ctx context.Context, userID string, depth int) (TeamTree, error) {
	switch {
	case depth <= 0:
		depth = commission.MaxTier
	case depth > MaxTeamDepth:
		depth = MaxTeamDepth
	}
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return TeamTree{}, ErrUserNotFound
	}
	if err != nil {
		return TeamTree{}, err
	}
	rows, err := s.users.Downline(ctx, user.ReferralCode, depth)
	if err != nil {
		return TeamTree{}, err
	}
	members, size := BuildTeamTree(user.ReferralCode, rows)
	return TeamTree{ReferralCode: user.ReferralCode, Depth: depth, Size: size, Members: members}, nil
}

// BuildTeamTree nests rows under their referrer. Rows must be ordered by
// level. A row whose referrer is not in the result is attached at the top,
// and the root code itself or a repeated user is skipped.
func BuildTeamTree(rootCode string, rows []store.DownlineMember) ([]*TeamNode, int) {
	roots := []*TeamNode{}
	byCode := make(map[string]*TeamNode, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.ReferralCode == rootCode {
			continue
		}
		if _, dup := seen[row.UserID]; dup {
			continue
		}
		if _, dup := byCode[row.ReferralCode]; dup {
			continue
		}
		seen[row.UserID] = struct{}{}
		node := &TeamNode{
			UserID:       row.UserID,
			Username:     row.Username,
			ReferralCode: row.ReferralCode,
			Status:       row.Status,
			Level:        row.Level,
			JoinedAt:     row.JoinedAt,
			Children:     []*TeamNode{},
		}
		if parent, ok := byCode[row.ReferredByCode]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
		byCode[row.ReferralCode] = node
	}
	return roots, len(seen)
}
