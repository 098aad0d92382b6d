package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Pinger はデータベースの疎通確認。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// BreakerReporter はリモートAPIのサーキットブレーカーの状態を返す。apiclient.Clientが実装する。
type BreakerReporter interface {
	BreakerState() gobreaker.State
}

// HealthHandler は死活監視用のJSONを返す。
type HealthHandler struct {
	db      Pinger
	breaker BreakerReporter
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger, breaker BreakerReporter) *HealthHandler {
	return &HealthHandler{db: db, breaker: breaker}
}

type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	RemoteAPI string `json:"remote_api"`
}

// Health はデータベースとリモートAPIの状態を返す。
// データベースに接続できない場合だけ503にする。ブレーカーが開いていてもページは描画できるため200のまま。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", RemoteAPI: "unknown"}
	status := http.StatusOK
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			logError(r, "health check: database ping failed", err)
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.breaker != nil {
		resp.RemoteAPI = h.breaker.BreakerState().String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// SigningIn はトークン交換が終わらないうちに保護ページが開かれた場合のページ。
// 数秒後に同じURLを読み直す。
func (rd *Renderer) SigningIn() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rd.Render(w, r, http.StatusAccepted, "pending", Page{
			Title:   "Signing you in",
			Refresh: 2,
		})
	})
}
