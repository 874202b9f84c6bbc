// Package model はドメインモデルを定義する。
package model

import "time"

// User は管理画面を利用するユーザーを表す。
// ユーザーの作成・削除は本体アプリケーション側の責務であり、ここでは参照のみ行う。
type User struct {
	ID         int64
	Email      string
	Name       string
	SuperAdmin bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}
