package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// pqUniqueViolation はPostgreSQLのユニーク制約違反のエラーコード。
const pqUniqueViolation = "23505"

const podcastColumns = `p.id, p.title, p.feed_url, p.description, p.itunes_url, p.overcast_url,
		        p.android_url, p.soundcloud_url, p.website_url, p.twitter_username,
		        p.main_color_hex, p.slug, p.reachable, p.published, p.image,
		        p.pattern_image, p.created_at, p.updated_at`

// PostgresPodcastRepo はPostgreSQLを使用したポッドキャストリポジトリ。
type PostgresPodcastRepo struct {
	db *sql.DB
}

// NewPostgresPodcastRepo はPostgresPodcastRepoを生成する。
func NewPostgresPodcastRepo(db *sql.DB) *PostgresPodcastRepo {
	return &PostgresPodcastRepo{db: db}
}

// scanner はsql.Rowとsql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

func scanPodcast(s scanner, p *model.Podcast, extra ...any) error {
	dest := []any{
		&p.ID, &p.Title, &p.FeedURL, &p.Description, &p.ITunesURL, &p.OvercastURL,
		&p.AndroidURL, &p.SoundcloudURL, &p.WebsiteURL, &p.TwitterUsername,
		&p.MainColorHex, &p.Slug, &p.Reachable, &p.Published, &p.Image,
		&p.PatternImage, &p.CreatedAt, &p.UpdatedAt,
	}
	return s.Scan(append(dest, extra...)...)
}

// List は全ポッドキャストをエピソード数付きでタイトル順に返す。
func (r *PostgresPodcastRepo) List(ctx context.Context) ([]model.PodcastSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+podcastColumns+`,
		        (SELECT count(*) FROM podcast_episodes e WHERE e.podcast_id = p.id) AS episode_count
		 FROM podcasts p
		 ORDER BY p.title ASC, p.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list podcasts: %w", err)
	}
	defer rows.Close()

	var podcasts []model.PodcastSummary
	for rows.Next() {
		var s model.PodcastSummary
		if err := scanPodcast(rows, &s.Podcast, &s.EpisodeCount); err != nil {
			return nil, fmt.Errorf("failed to scan podcast: %w", err)
		}
		podcasts = append(podcasts, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate podcasts: %w", err)
	}

	return podcasts, nil
}

// FindByID は指定IDのポッドキャストを取得する。見つからない場合はnilを返す。
func (r *PostgresPodcastRepo) FindByID(ctx context.Context, id int64) (*model.Podcast, error) {
	p := &model.Podcast{}
	err := scanPodcast(r.db.QueryRowContext(ctx,
		`SELECT `+podcastColumns+` FROM podcasts p WHERE p.id = $1`,
		id,
	), p)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find podcast by ID: %w", err)
	}

	return p, nil
}

// Update はIDを除く全メタデータを上書き保存する。
func (r *PostgresPodcastRepo) Update(ctx context.Context, p *model.Podcast) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE podcasts
		 SET title = $2, feed_url = $3, description = $4, itunes_url = $5,
		     overcast_url = $6, android_url = $7, soundcloud_url = $8,
		     website_url = $9, twitter_username = $10, main_color_hex = $11,
		     slug = $12, reachable = $13, published = $14, image = $15,
		     pattern_image = $16, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		p.ID, p.Title, p.FeedURL, p.Description, p.ITunesURL,
		p.OvercastURL, p.AndroidURL, p.SoundcloudURL,
		p.WebsiteURL, p.TwitterUsername, p.MainColorHex,
		p.Slug, p.Reachable, p.Published, p.Image,
		p.PatternImage,
	).Scan(&p.UpdatedAt)

	if err == sql.ErrNoRows {
		return fmt.Errorf("podcast not found: %d", p.ID)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return ErrSlugConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update podcast: %w", err)
	}
	return nil
}

// UpdateReachable はフィード到達可否フラグのみを更新する。
func (r *PostgresPodcastRepo) UpdateReachable(ctx context.Context, id int64, reachable bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE podcasts SET reachable = $2, updated_at = now() WHERE id = $1`,
		id, reachable,
	)
	if err != nil {
		return fmt.Errorf("failed to update podcast reachability: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PodcastRepository = (*PostgresPodcastRepo)(nil)
