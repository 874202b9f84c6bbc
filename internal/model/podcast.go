// Package model はドメインモデルを定義する。
package model

import "time"

// Podcast はポッドキャストのメタデータを表す。
// Image と PatternImage はオブジェクトストレージ上のアセットURLを保持する。
type Podcast struct {
	ID              int64
	Title           string
	FeedURL         string
	Description     string
	ITunesURL       string
	OvercastURL     string
	AndroidURL      string
	SoundcloudURL   string
	WebsiteURL      string
	TwitterUsername string
	MainColorHex    string
	Slug            string
	Reachable       bool
	Published       bool
	Image           string
	PatternImage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PodcastSummary は一覧表示用にエピソード数を付加したポッドキャスト。
type PodcastSummary struct {
	Podcast
	EpisodeCount int
}

// AssetKind はポッドキャストに紐づく画像アセットの種別。
type AssetKind string

const (
	// AssetImage はカバー画像。
	AssetImage AssetKind = "image"
	// AssetPatternImage は背景パターン画像。
	AssetPatternImage AssetKind = "pattern_image"
)
