package services

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"quizparty/models"
)

type RoomState int

const (
	RoomLobby RoomState = iota
	RoomInProgress
	RoomScoring
	RoomEnded
)

// Room is one game session. All mutable fields are guarded by mu; an
// operation never holds more than one room lock, so cross-room operations
// stay independent.
type Room struct {
	mu sync.Mutex

	code      string
	hostID    string
	topic     string
	questions []models.Question
	players   []*models.Player

	state             RoomState
	currentQuestion   int
	questionStartedAt time.Time
	timeLimit         int // seconds, fixed for the lifetime of the room
	currentSong       *models.Song

	// generation increments on every round transition and on teardown.
	// Timer callbacks compare the value they captured when scheduled against
	// the current one before mutating, so a stale timeout or scoring-delay
	// callback can never advance a round it no longer owns.
	generation uint64
}

func newRoom(topic string, questions []models.Question, host *models.Player, timeLimit int) *Room {
	return &Room{
		topic:     topic,
		questions: questions,
		players:   []*models.Player{host},
		hostID:    host.ID,
		state:     RoomLobby,
		timeLimit: timeLimit,
	}
}

// playerViews returns a value snapshot of the roster, safe to marshal after
// the room lock is released.
func (r *Room) playerViews() []models.Player {
	return lo.Map(r.players, func(p *models.Player, _ int) models.Player { return *p })
}

func (r *Room) findPlayer(id string) *models.Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) allAnswered() bool {
	idx := r.currentQuestion
	return lo.EveryBy(r.players, func(p *models.Player) bool {
		_, ok := p.Answers[idx]
		return ok
	})
}
