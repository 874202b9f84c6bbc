// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// ErrSlugConflict はslugのユニーク制約違反を表す。
var ErrSlugConflict = errors.New("slug already exists")

// UserRepository はユーザーデータの参照インターフェース。
// ユーザーはID基盤側が所有し、このサービスは読み取りのみ行う。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByIDs は指定IDのユーザーをID順に返す。存在しないIDは結果に含まれない。
	FindByIDs(ctx context.Context, ids []int64) ([]model.User, error)
}

// SessionRepository はセッションデータの参照インターフェース。
type SessionRepository interface {
	// FindByID は有効なセッションを取得する。期限切れやユーザー削除済みの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// PodcastRepository はポッドキャストデータの永続化インターフェース。
type PodcastRepository interface {
	// List は全ポッドキャストをエピソード数付きでタイトル順に返す。
	// エピソードが0件のポッドキャストも含む。
	List(ctx context.Context) ([]model.PodcastSummary, error)

	// FindByID は指定IDのポッドキャストを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Podcast, error)

	// Update はIDを除く全メタデータを上書き保存する。
	// slugが他のポッドキャストと重複する場合はErrSlugConflictを返す。
	Update(ctx context.Context, podcast *model.Podcast) error

	// UpdateReachable はフィード到達可否フラグのみを更新する。
	UpdateReachable(ctx context.Context, id int64, reachable bool) error
}

// RoleRepository はリソース単位の権限付与の永続化インターフェース。
// Grant/Revoke はユーザーの存在確認と変更を1文で行う。
type RoleRepository interface {
	// Grant は権限を付与する。既に付与済みの場合はAffected=0を返す。
	Grant(ctx context.Context, userID int64, capability model.Capability, ref model.ResourceRef) (model.RoleMutation, error)

	// Revoke は権限を剥奪する。該当する付与がない場合はAffected=0を返す。
	Revoke(ctx context.Context, userID int64, capability model.Capability, ref model.ResourceRef) (model.RoleMutation, error)

	// Exists はユーザーがリソースに対して権限を持つかを返す。
	Exists(ctx context.Context, userID int64, capability model.Capability, ref model.ResourceRef) (bool, error)

	// ListByResource はリソースに対する権限付与を付与日時順に返す。
	ListByResource(ctx context.Context, capability model.Capability, ref model.ResourceRef) ([]model.RoleGrant, error)
}
