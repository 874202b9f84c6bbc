// Package model はドメインモデルを定義する。
package model

// FetchEpisodesJobType はエピソード取得ジョブのメッセージ種別。
// 下流ワーカーはこの値でジョブを振り分ける。
const FetchEpisodesJobType = "Podcasts::GetEpisodesWorker"

// FetchEpisodesJob はエピソード取得ジョブのキュー上のペイロード。
// limit が未指定の場合は省略せず null として送る（下流がペイロード形状で判定するため）。
type FetchEpisodesJob struct {
	PodcastID int64 `json:"podcast_id"`
	Limit     *int  `json:"limit"`
	Force     bool  `json:"force"`
}
