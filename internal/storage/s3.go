// Package storage はポッドキャスト画像アセットのオブジェクトストレージ保存を提供する。
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// ObjectStore はアセットを保存して公開URLを返すインターフェース。
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config はS3互換ストレージの接続設定。
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// PublicBaseURL が設定されている場合、公開URLはこのURL配下になる（CDNなど）。
	PublicBaseURL string
}

// S3Store はS3互換ストレージを使用したObjectStore実装。
type S3Store struct {
	client *s3.Client
	cfg    Config
}

// NewS3Store はS3クライアントを生成する。
// アクセスキーが指定されている場合は静的認証情報を、それ以外はデフォルトの認証チェーンを使用する。
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client, cfg: cfg}, nil
}

// Put はオブジェクトをアップロードし、公開URLを返す。
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	hash := sha256.Sum256(data)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}

	return s.URL(key), nil
}

// Delete はオブジェクトを削除する。存在しないキーの削除もエラーにはならない。
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from s3: %w", err)
	}
	return nil
}

// URL はオブジェクトキーの公開URLを返す。
func (s *S3Store) URL(key string) string {
	switch {
	case s.cfg.PublicBaseURL != "":
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	case s.cfg.Endpoint != "" && s.cfg.UsePathStyle:
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	}
}

// Origin は公開URLのオリジン（scheme://host）を返す。解析できない場合は空文字列。
func (s *S3Store) Origin() string {
	u, err := url.Parse(s.URL(""))
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// ObjectKey はアセットの保存キーを生成する。
// 形式: podcasts/{id}/{kind}/{uuid}{拡張子}
// アップロードごとに新しいキーとなるため、差し替え前のURLはキャッシュの影響を受けない。
func ObjectKey(podcastID int64, kind model.AssetKind, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	return fmt.Sprintf("podcasts/%d/%s/%s%s", podcastID, kind, uuid.NewString(), ext)
}

// compile-time interface check
var _ ObjectStore = (*S3Store)(nil)
