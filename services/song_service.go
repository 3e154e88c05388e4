package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"quizparty/models"
)

// SongSearcher looks up songs for shared playback.
type SongSearcher interface {
	Search(ctx context.Context, query string) ([]models.Song, error)
}

const (
	songCacheTTL   = 2 * time.Hour
	maxSongResults = 5
)

// YouTubeSongSearcher queries the YouTube Data API search endpoint and maps
// results to title/url/thumbnail triples. Shorts and incomplete entries are
// filtered out. Results are cached per query when redis is configured.
type YouTubeSongSearcher struct {
	client  *http.Client
	apiKey  string
	baseURL string
	cache   *redis.Client
	log     zerolog.Logger
}

func NewYouTubeSongSearcher(apiKey string, cache *redis.Client, log zerolog.Logger) *YouTubeSongSearcher {
	return &YouTubeSongSearcher{
		client:  &http.Client{Timeout: 15 * time.Second},
		apiKey:  apiKey,
		baseURL: "https://www.googleapis.com",
		cache:   cache,
		log:     log.With().Str("component", "songs").Logger(),
	}
}

type youtubeSearchResponse struct {
	Items []youtubeSearchItem `json:"items"`
}

type youtubeSearchItem struct {
	ID struct {
		VideoID string `json:"videoId"`
	} `json:"id"`
	Snippet struct {
		Title      string `json:"title"`
		Thumbnails struct {
			Medium struct {
				URL string `json:"url"`
			} `json:"medium"`
		} `json:"thumbnails"`
	} `json:"snippet"`
}

func (s *YouTubeSongSearcher) Search(ctx context.Context, query string) ([]models.Song, error) {
	cacheKey := "songs:" + strings.ToLower(query)
	if cached, ok := s.fromCache(ctx, cacheKey); ok {
		return cached, nil
	}

	endpoint := fmt.Sprintf("%s/youtube/v3/search?part=snippet&type=video&maxResults=10&q=%s&key=%s",
		s.baseURL, url.QueryEscape(query), s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("song search failed with status %d", resp.StatusCode)
	}

	var parsed youtubeSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	songs := lo.FilterMap(parsed.Items, func(item youtubeSearchItem, _ int) (models.Song, bool) {
		if item.ID.VideoID == "" || item.Snippet.Title == "" || item.Snippet.Thumbnails.Medium.URL == "" {
			return models.Song{}, false
		}
		watchURL := "https://www.youtube.com/watch?v=" + item.ID.VideoID
		if strings.Contains(watchURL, "/shorts/") {
			return models.Song{}, false
		}
		return models.Song{
			Title:     item.Snippet.Title,
			URL:       watchURL,
			Thumbnail: item.Snippet.Thumbnails.Medium.URL,
		}, true
	})

	if len(songs) > maxSongResults {
		songs = songs[:maxSongResults]
	}
	if len(songs) == 0 {
		return nil, ErrNoSongResults
	}

	s.toCache(ctx, cacheKey, songs)
	return songs, nil
}

func (s *YouTubeSongSearcher) fromCache(ctx context.Context, key string) ([]models.Song, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}
	var songs []models.Song
	if err := json.Unmarshal([]byte(data), &songs); err != nil {
		return nil, false
	}
	return songs, true
}

func (s *YouTubeSongSearcher) toCache(ctx context.Context, key string, songs []models.Song) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(songs)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, songCacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
