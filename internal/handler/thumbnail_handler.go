package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mercadash/internal/model"
	"github.com/hitoshi/mercadash/internal/security"
)

// thumbnailFetchTimeout はサムネイル取得のタイムアウト。
const thumbnailFetchTimeout = 10 * time.Second

// thumbnailMaxBytes はプロキシするレスポンスボディの上限サイズ。
const thumbnailMaxBytes = 5 << 20 // 5MiB

// ThumbnailHandler は出品サムネイルのプロキシハンドラー。
// 画像URLはアップストリームのレスポンス由来で信頼できないため、
// SSRFガードで検証してから取得する。
type ThumbnailHandler struct {
	guard  security.SSRFGuardService
	client *http.Client
}

// NewThumbnailHandler はThumbnailHandlerを生成する。
func NewThumbnailHandler(guard security.SSRFGuardService) *ThumbnailHandler {
	return &ThumbnailHandler{
		guard:  guard,
		client: guard.NewSafeClient(thumbnailFetchTimeout),
	}
}

// Proxy はサムネイル画像を取得してそのまま返す。
// GET /api/items/thumbnail?url=https://...
func (h *ThumbnailHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("urlが空です"))
		return
	}

	if err := h.guard.ValidateURL(rawURL); err != nil {
		slog.Warn("thumbnail url blocked",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewThumbnailBlockedError())
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("url="+rawURL))
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// DNS再バインディング等のDialer層ブロックもここに到達する
		slog.Warn("thumbnail fetch failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewUpstreamFailedError("サムネイルの取得に失敗しました"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewUpstreamFailedError("サムネイルの取得に失敗しました"))
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// サムネイルは不変URLのためブラウザキャッシュを許可する
	w.Header().Set("Cache-Control", "public, max-age=86400")

	if _, err := io.Copy(w, io.LimitReader(resp.Body, thumbnailMaxBytes)); err != nil {
		slog.Warn("thumbnail copy interrupted", slog.String("error", err.Error()))
	}
}
