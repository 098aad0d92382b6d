// Package store は冪等キーやラッチなど、TTL付きの短命な排他フラグを提供する。
// Redisが利用できる場合は複数インスタンス間で共有し、そうでなければプロセス内で保持する。
package store

import (
	"context"
	"time"
)

// ClaimStore はキー単位の排他フラグ。
// Claimは未取得のキーを取得できたときだけtrueを返す。
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
