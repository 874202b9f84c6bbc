// Package authz はリソース単位の権限付与・剥奪・判定を提供する。
// 権限は常に (ユーザー, 権限名, 特定リソース) の三つ組で扱い、グローバルな権限は持たない。
package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/podcastadmin/internal/model"
	"github.com/hitoshi/podcastadmin/internal/repository"
)

// Outcome は付与・剥奪操作の結果。
// OutcomeNotFound はエラーではなく、呼び出し側は成功と同じ扱いでリダイレクトする。
type Outcome int

const (
	// OutcomeNotFound は対象ユーザーが存在しない、または剥奪対象の付与がないことを表す。
	OutcomeNotFound Outcome = iota
	// OutcomeGranted は新しく付与したことを表す。
	OutcomeGranted
	// OutcomeAlreadyGranted は既に付与済みで変更がなかったことを表す。
	OutcomeAlreadyGranted
	// OutcomeRevoked は剥奪したことを表す。
	OutcomeRevoked
)

// String はメトリクスラベルやログ用の文字列表現を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeAlreadyGranted:
		return "already_granted"
	case OutcomeRevoked:
		return "revoked"
	default:
		return "not_found"
	}
}

// Changed はロールストアの状態が変化したかを返す。
func (o Outcome) Changed() bool {
	return o == OutcomeGranted || o == OutcomeRevoked
}

// registry はリソース種別ごとに受け付ける権限名の一覧。
var registry = map[model.ResourceType][]model.Capability{
	model.ResourcePodcast: {model.CapabilityPodcastAdmin},
}

// Recorder は権限変更のメトリクス記録インターフェース。
type Recorder interface {
	RecordRoleChange(action, outcome string)
}

// Service は権限管理のサービス層。
type Service struct {
	roleRepo repository.RoleRepository
	recorder Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewService(roleRepo repository.RoleRepository, recorder Recorder) *Service {
	return &Service{
		roleRepo: roleRepo,
		recorder: recorder,
	}
}

// Validate はリソース種別と権限名の組がレジストリに登録されているかを検証する。
func Validate(capability model.Capability, ref model.ResourceRef) error {
	caps, ok := registry[ref.Type]
	if !ok {
		return model.NewUnknownResourceError(ref.Type)
	}
	for _, c := range caps {
		if c == capability {
			return nil
		}
	}
	return model.NewUnknownCapabilityError(capability, ref.Type)
}

// Grant はユーザーにリソースへの権限を付与する。
// ユーザーが存在しない場合は何も変更せずOutcomeNotFoundを返す。
func (s *Service) Grant(ctx context.Context, capability model.Capability, userID int64, ref model.ResourceRef) (Outcome, error) {
	if err := Validate(capability, ref); err != nil {
		return OutcomeNotFound, err
	}

	res, err := s.roleRepo.Grant(ctx, userID, capability, ref)
	if err != nil {
		return OutcomeNotFound, fmt.Errorf("権限の付与に失敗しました: %w", err)
	}

	var outcome Outcome
	switch {
	case !res.UserFound:
		outcome = OutcomeNotFound
	case res.Affected > 0:
		outcome = OutcomeGranted
	default:
		outcome = OutcomeAlreadyGranted
	}

	s.record("grant", outcome)
	slog.InfoContext(ctx, "role grant",
		slog.Int64("user_id", userID),
		slog.String("capability", string(capability)),
		slog.String("resource", ref.String()),
		slog.String("outcome", outcome.String()),
	)
	return outcome, nil
}

// Revoke はユーザーからリソースへの権限を剥奪する。
// ユーザーまたは該当する付与が存在しない場合はOutcomeNotFoundを返す。
func (s *Service) Revoke(ctx context.Context, capability model.Capability, userID int64, ref model.ResourceRef) (Outcome, error) {
	if err := Validate(capability, ref); err != nil {
		return OutcomeNotFound, err
	}

	res, err := s.roleRepo.Revoke(ctx, userID, capability, ref)
	if err != nil {
		return OutcomeNotFound, fmt.Errorf("権限の剥奪に失敗しました: %w", err)
	}

	outcome := OutcomeNotFound
	if res.UserFound && res.Affected > 0 {
		outcome = OutcomeRevoked
	}

	s.record("revoke", outcome)
	slog.InfoContext(ctx, "role revoke",
		slog.Int64("user_id", userID),
		slog.String("capability", string(capability)),
		slog.String("resource", ref.String()),
		slog.String("outcome", outcome.String()),
	)
	return outcome, nil
}

// HasCapability はユーザーがリソースに対して権限を持つかを返す。
func (s *Service) HasCapability(ctx context.Context, userID int64, capability model.Capability, ref model.ResourceRef) (bool, error) {
	if err := Validate(capability, ref); err != nil {
		return false, err
	}
	ok, err := s.roleRepo.Exists(ctx, userID, capability, ref)
	if err != nil {
		return false, fmt.Errorf("権限の確認に失敗しました: %w", err)
	}
	return ok, nil
}

// Admins はポッドキャストに対して管理権限を持つユーザーIDを付与日時順に返す。
func (s *Service) Admins(ctx context.Context, podcastID int64) ([]int64, error) {
	grants, err := s.roleRepo.ListByResource(ctx, model.CapabilityPodcastAdmin, model.PodcastRef(podcastID))
	if err != nil {
		return nil, fmt.Errorf("管理者一覧の取得に失敗しました: %w", err)
	}
	ids := make([]int64, len(grants))
	for i, g := range grants {
		ids[i] = g.UserID
	}
	return ids, nil
}

func (s *Service) record(action string, outcome Outcome) {
	if s.recorder != nil {
		s.recorder.RecordRoleChange(action, outcome.String())
	}
}
