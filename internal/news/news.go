// Package news はホーム画面に表示するキャンペーンニュースの取得とキャッシュを提供する。
// 設定されたRSS/Atomフィード、またはフィードをlinkタグで告知するHTMLページを定期的に取得し、
// 直近の記事をメモリに保持する。
package news

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/security"
)

// ErrFeedNotFound は取得したページにフィードが見つからないことを示す。
var ErrFeedNotFound = errors.New("news feed not found")

// Item はニュース記事1件。
type Item struct {
	Title     string
	Link      string
	Summary   template.HTML // サニタイズ済み
	Published time.Time
}

// FetchGuard は外部URL取得時の検証インターフェース。
// security.URLGuardを抽象化する。
type FetchGuard interface {
	ValidateFetchURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Config はニュースサービスの設定。
type Config struct {
	FeedURL  string
	Timeout  time.Duration
	MaxSize  int64
	MaxItems int
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// Service はニュースフィードを取得し、直近の記事を保持する。
type Service struct {
	guard     FetchGuard
	sanitizer *security.Sanitizer
	client    *http.Client
	cfg       Config

	mu           sync.RWMutex
	items        []Item
	feedURL      string // 検出済みのフィードURL
	etag         string
	lastModified string
	lastRefresh  time.Time
}

// NewService はServiceを生成する。FeedURLが空の場合は何も取得しない。
func NewService(guard FetchGuard, sanitizer *security.Sanitizer, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 5 * 1024 * 1024
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 3
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		guard:     guard,
		sanitizer: sanitizer,
		client:    guard.NewSafeClient(cfg.Timeout),
		cfg:       cfg,
	}
}

// Enabled はフィードURLが設定されているかを返す。
func (s *Service) Enabled() bool {
	return s.cfg.FeedURL != ""
}

// Latest はキャッシュ中の記事を新しい順に最大n件返す。
func (s *Service) Latest(n int) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.items) {
		n = len(s.items)
	}
	out := make([]Item, n)
	copy(out, s.items[:n])
	return out
}

// LastRefresh は最後に取得に成功した時刻を返す。
func (s *Service) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefresh
}

// Run はinterval間隔でRefreshを実行する。起動直後に1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if !s.Enabled() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.cfg.Logger.Info("ニュース更新を開始しました",
		slog.String("feed_url", s.cfg.FeedURL),
		slog.Duration("interval", interval),
	)

	s.refreshAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.cfg.Logger.Info("ニュース更新を停止しました")
			return
		case <-ticker.C:
			s.refreshAndLog(ctx)
		}
	}
}

func (s *Service) refreshAndLog(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.cfg.Logger.Warn("ニュースの取得に失敗しました",
			slog.String("feed_url", s.cfg.FeedURL),
			slog.String("error", err.Error()),
		)
	}
}

// Refresh はフィードを1回取得してキャッシュを更新する。
// 失敗した場合は直前の記事をそのまま残す。
func (s *Service) Refresh(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	n, err := s.refresh(ctx)
	s.cfg.Metrics.RecordNewsRefresh(err == nil, n)
	return err
}

func (s *Service) refresh(ctx context.Context) (int, error) {
	s.mu.RLock()
	target, etag, lastModified := s.feedURL, s.etag, s.lastModified
	s.mu.RUnlock()
	if target == "" {
		target, etag, lastModified = s.cfg.FeedURL, "", ""
	}

	resp, err := s.get(ctx, target, etag, lastModified)
	if err != nil {
		return 0, err
	}

	if resp.notModified {
		s.mu.Lock()
		s.lastRefresh = time.Now()
		n := len(s.items)
		s.mu.Unlock()
		return n, nil
	}

	if !isFeed(resp.contentType, resp.body) {
		if !isHTML(resp.contentType) {
			return 0, fmt.Errorf("%w: unexpected content type %q", ErrFeedNotFound, resp.contentType)
		}
		link, ok := bestFeedLink(findFeedLinks(resp.body, target), target)
		if !ok {
			return 0, ErrFeedNotFound
		}
		target = link
		if resp, err = s.get(ctx, target, "", ""); err != nil {
			return 0, err
		}
		if resp.notModified {
			return 0, fmt.Errorf("unexpected 304 from %s", target)
		}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.body))
	if err != nil {
		return 0, fmt.Errorf("failed to parse feed: %w", err)
	}
	items := s.convert(feed)

	s.mu.Lock()
	s.items = items
	s.feedURL = target
	s.etag = resp.etag
	s.lastModified = resp.lastModified
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	s.cfg.Logger.Info("ニュースを更新しました",
		slog.String("feed_url", target),
		slog.Int("items", len(items)),
	)
	return len(items), nil
}

type fetchResponse struct {
	body         []byte
	contentType  string
	etag         string
	lastModified string
	notModified  bool
}

// get はSSRF検証の上でURLを取得する。ETag/Last-Modifiedがあれば条件付きGETにする。
func (s *Service) get(ctx context.Context, rawURL, etag, lastModified string) (*fetchResponse, error) {
	if err := s.guard.ValidateFetchURL(rawURL); err != nil {
		return nil, fmt.Errorf("news URL rejected: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Bloodlink/1.0 News Reader")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &fetchResponse{notModified: true}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("news fetch failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read news response: %w", err)
	}
	if int64(len(body)) > s.cfg.MaxSize {
		return nil, fmt.Errorf("news response exceeds %d bytes", s.cfg.MaxSize)
	}

	return &fetchResponse{
		body:         body,
		contentType:  resp.Header.Get("Content-Type"),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// convert はgofeedの記事を新しい順に並べ、MaxItems件までに絞る。
// リンクはhttp/httpsの絶対URLのみ残す。
func (s *Service) convert(feed *gofeed.Feed) []Item {
	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		title := s.sanitizer.Text(it.Title)
		if title == "" {
			continue
		}

		summary := it.Description
		if summary == "" {
			summary = it.Content
		}

		var published time.Time
		switch {
		case it.PublishedParsed != nil:
			published = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			published = *it.UpdatedParsed
		}

		link := it.Link
		if hostOf(link) == "" || !hasWebScheme(link) {
			link = ""
		}

		items = append(items, Item{
			Title:     title,
			Link:      link,
			Summary:   template.HTML(s.sanitizer.HTML(summary)),
			Published: published,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})
	if len(items) > s.cfg.MaxItems {
		items = items[:s.cfg.MaxItems]
	}
	return items
}

// compile-time interface check
var _ FetchGuard = (*security.URLGuard)(nil)
