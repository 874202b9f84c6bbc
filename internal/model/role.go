// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Capability はリソース単位で付与される管理権限の名前。
type Capability string

const (
	// CapabilityPodcastAdmin は特定ポッドキャストの管理権限。
	CapabilityPodcastAdmin Capability = "podcast_admin"
)

// ResourceType は権限付与対象のリソース種別。
type ResourceType string

const (
	// ResourcePodcast はポッドキャストを表すリソース種別。
	ResourcePodcast ResourceType = "podcast"
)

// ResourceRef は権限付与対象となる特定リソースへの参照。
// 種別とIDの組で一意に識別し、グローバルな参照は存在しない。
type ResourceRef struct {
	Type ResourceType
	ID   int64
}

// PodcastRef は指定IDのポッドキャストへのResourceRefを返す。
func PodcastRef(id int64) ResourceRef {
	return ResourceRef{Type: ResourcePodcast, ID: id}
}

// String は "podcast:42" 形式の文字列表現を返す。
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// RoleGrant は (ユーザー, 権限名, リソース) の三つ組で表される権限付与レコード。
type RoleGrant struct {
	ID         int64
	UserID     int64
	Capability Capability
	Resource   ResourceRef
	CreatedAt  time.Time
}

// RoleMutation はRoleストアへの付与・剥奪操作の結果。
// UserFound が false の場合、対象ユーザーが存在せず状態は変更されていない。
type RoleMutation struct {
	UserFound bool
	Affected  int
}
