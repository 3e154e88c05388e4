package models

// Song is a shared-playback selection returned by the song search.
type Song struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}
