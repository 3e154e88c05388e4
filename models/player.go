package models

// NoAnswer is the reserved option index meaning the player did not respond
// before the round timed out. Clients see it on the wire; internally an
// unanswered round is simply absent from the Answers map.
const NoAnswer = -1

// Answer is one recorded submission for a single round.
type Answer struct {
	Option       int     `json:"option"`
	ResponseTime float64 `json:"responseTime"` // seconds, clamped to [0, timeLimit]
}

// Player is a room member identified by its connection id. Owned exclusively
// by its room; all mutation happens under the room lock.
type Player struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
	IsSpeaking bool   `json:"isSpeaking"`
	IsVideoOn  bool   `json:"isVideoOn"`
	IsMuted    bool   `json:"isMuted"`

	// Answers maps round index to the submission for that round. A key is
	// written at most once per round.
	Answers map[int]Answer `json:"-"`
}

func NewPlayer(id, name string) *Player {
	return &Player{
		ID:      id,
		Name:    name,
		Answers: make(map[int]Answer),
	}
}
