// Package podcast はポッドキャストのメタデータ管理と画像アセットの保存を提供する。
package podcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/podcastadmin/internal/model"
	"github.com/hitoshi/podcastadmin/internal/repository"
	"github.com/hitoshi/podcastadmin/internal/storage"
)

// Upload はフォームから受け取った画像ファイル。
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// UpdateInput はポッドキャスト更新時の入力値。
// ID以外の全メタデータを受け取り、そのまま保存する。
// Image / PatternImage がnilの場合は既存のアセットを維持する。
type UpdateInput struct {
	Title           string `form:"title" validate:"notblank,max=255"`
	FeedURL         string `form:"feed_url" validate:"notblank,max=2048"`
	Description     string `form:"description"`
	ITunesURL       string `form:"itunes_url" validate:"max=2048"`
	OvercastURL     string `form:"overcast_url" validate:"max=2048"`
	AndroidURL      string `form:"android_url" validate:"max=2048"`
	SoundcloudURL   string `form:"soundcloud_url" validate:"max=2048"`
	WebsiteURL      string `form:"website_url" validate:"max=2048"`
	TwitterUsername string `form:"twitter_username" validate:"max=255"`
	MainColorHex    string `form:"main_color_hex" validate:"omitempty,colorhex"`
	Slug            string `form:"slug" validate:"notblank,max=255"`
	Reachable       bool   `form:"reachable"`
	Published       bool   `form:"published"`
	Image           *Upload
	PatternImage    *Upload
}

// colorHexPattern は "#" なしの6桁カラーコード。
var colorHexPattern = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// Service はポッドキャストのサービス層。
type Service struct {
	repo     repository.PodcastRepository
	store    storage.ObjectStore
	validate *validator.Validate
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.PodcastRepository, store storage.ObjectStore) *Service {
	v := validator.New()
	// エラーメッセージにはフォームのフィールド名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("form")
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("colorhex", func(fl validator.FieldLevel) bool {
		return colorHexPattern.MatchString(fl.Field().String())
	})
	// 空白のみの値は未入力とみなす。保存する値自体はトリムしない
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Service{
		repo:     repo,
		store:    store,
		validate: v,
	}
}

// List は全ポッドキャストをエピソード数付きで返す。
func (s *Service) List(ctx context.Context) ([]model.PodcastSummary, error) {
	podcasts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ポッドキャスト一覧の取得に失敗しました: %w", err)
	}
	return podcasts, nil
}

// Get は指定IDのポッドキャストを返す。存在しない場合はPODCAST_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Podcast, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ポッドキャストの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPodcastNotFoundError(id)
	}
	return p, nil
}

// Update は入力値を検証し、画像アセットをアップロードしてからメタデータを保存する。
// 入力値は受け取ったまま保存する。保存に失敗した場合はアップロード済みのアセットを削除する。
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*model.Podcast, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	var uploaded []string
	if in.Image != nil {
		key, url, err := s.upload(ctx, id, model.AssetImage, in.Image)
		if err != nil {
			return nil, err
		}
		uploaded = append(uploaded, key)
		p.Image = url
	}
	if in.PatternImage != nil {
		key, url, err := s.upload(ctx, id, model.AssetPatternImage, in.PatternImage)
		if err != nil {
			s.discard(ctx, id, uploaded)
			return nil, err
		}
		uploaded = append(uploaded, key)
		p.PatternImage = url
	}

	p.Title = in.Title
	p.FeedURL = in.FeedURL
	p.Description = in.Description
	p.ITunesURL = in.ITunesURL
	p.OvercastURL = in.OvercastURL
	p.AndroidURL = in.AndroidURL
	p.SoundcloudURL = in.SoundcloudURL
	p.WebsiteURL = in.WebsiteURL
	p.TwitterUsername = in.TwitterUsername
	p.MainColorHex = in.MainColorHex
	p.Slug = in.Slug
	p.Reachable = in.Reachable
	p.Published = in.Published

	if err := s.repo.Update(ctx, p); err != nil {
		s.discard(ctx, id, uploaded)
		if errors.Is(err, repository.ErrSlugConflict) {
			return nil, model.NewSlugTakenError(in.Slug)
		}
		return nil, fmt.Errorf("ポッドキャストの更新に失敗しました: %w", err)
	}

	slog.InfoContext(ctx, "podcast updated",
		slog.Int64("podcast_id", p.ID),
		slog.Bool("image_changed", in.Image != nil),
		slog.Bool("pattern_image_changed", in.PatternImage != nil),
	)
	return p, nil
}

func (s *Service) upload(ctx context.Context, id int64, kind model.AssetKind, u *Upload) (key, url string, err error) {
	key = storage.ObjectKey(id, kind, u.Filename)
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url, err = s.store.Put(ctx, key, u.Body, contentType)
	if err != nil {
		slog.ErrorContext(ctx, "asset upload failed",
			slog.Int64("podcast_id", id),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return "", "", model.NewUploadFailedError(kind)
	}
	return key, url, nil
}

// discard はどこからも参照されなくなったアセットを削除する。失敗はログのみ。
func (s *Service) discard(ctx context.Context, id int64, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
			slog.WarnContext(ctx, "orphaned asset cleanup failed",
				slog.Int64("podcast_id", id),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// toValidationError は最初の検証エラーをAPIErrorに変換する。
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("入力値の検証に失敗しました: %w", err)
	}
	fe := verrs[0]
	return model.NewValidationError(fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters long"
	case "colorhex":
		return "must be 6 hexadecimal digits"
	default:
		return "is invalid"
	}
}
