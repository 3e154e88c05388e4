package services

import (
	"context"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"quizparty/models"
)

const (
	cancelledByHostMessage  = "The game has been cancelled by the host."
	hostDisconnectedMessage = "The game has been cancelled due to host disconnection."
	defaultHostName         = "Host"
)

// Notifier delivers events to clients. The hub implements it; tests use a
// recorder.
type Notifier interface {
	BroadcastToRoom(roomCode, event string, payload any)
	BroadcastToRoomExcept(roomCode, exceptID, event string, payload any)
	SendToClient(clientID, event string, payload any)
}

type GameConfig struct {
	MaxPlayers        int
	QuestionTimeLimit int           // seconds, fixed per room at creation
	LatencyBuffer     time.Duration // grace added to the round timeout
	ScoringDelay      time.Duration // pause between rounds
}

// GameService drives the room lifecycle: creation, joining, question rounds
// with server-authoritative timing, answer collection and scoring, and
// teardown. One room lock is held at a time; no event is broadcast while a
// lock is held.
type GameService struct {
	store     *Store
	questions QuestionSource
	songs     SongSearcher
	notifier  Notifier
	cfg       GameConfig
	log       zerolog.Logger
}

func NewGameService(store *Store, questions QuestionSource, songs SongSearcher, notifier Notifier, cfg GameConfig, log zerolog.Logger) *GameService {
	return &GameService{
		store:     store,
		questions: questions,
		songs:     songs,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.With().Str("component", "game").Logger(),
	}
}

// CreateRoom generates questions for the topic and, only on success, commits
// a new room holding the creator as host. Nothing is retained when the
// upstream call fails, so a room can never materialize half-built.
func (s *GameService) CreateRoom(ctx context.Context, clientID, topic string, questionCount int, playerName string) (string, error) {
	questions, err := s.questions.GenerateQuestions(ctx, topic, questionCount)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Int("count", questionCount).Msg("question generation failed")
		return "", ErrQuestionGeneration
	}

	if playerName == "" {
		playerName = defaultHostName
	}
	host := models.NewPlayer(clientID, playerName)
	room := newRoom(topic, questions, host, s.cfg.QuestionTimeLimit)
	code := s.store.Insert(room)

	room.mu.Lock()
	players := room.playerViews()
	room.mu.Unlock()

	s.log.Info().Str("room", code).Str("topic", topic).Int("questions", len(questions)).Msg("room created")
	s.notifier.SendToClient(clientID, "room-created", gin.H{
		"roomCode": code,
		"players":  players,
	})
	return code, nil
}

// JoinRoom appends a player to a lobby-state room and announces the updated
// roster.
func (s *GameService) JoinRoom(code, clientID, playerName string) error {
	room, ok := s.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.state != RoomLobby {
		room.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(room.players) >= s.cfg.MaxPlayers {
		room.mu.Unlock()
		return ErrRoomFull
	}
	room.players = append(room.players, models.NewPlayer(clientID, playerName))
	players := room.playerViews()
	song := room.currentSong
	room.mu.Unlock()

	s.log.Info().Str("room", code).Str("client", clientID).Msg("player joined")
	s.notifier.BroadcastToRoom(code, "player-joined", gin.H{"players": players})
	s.notifier.SendToClient(clientID, "room-joined", gin.H{
		"roomCode":    code,
		"players":     players,
		"currentSong": song,
	})
	return nil
}

// StartGame transitions a lobby to the first round. Host only.
func (s *GameService) StartGame(code, clientID string) error {
	room, ok := s.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.hostID != clientID {
		room.mu.Unlock()
		return ErrNotHost
	}
	if room.state != RoomLobby {
		room.mu.Unlock()
		return ErrAlreadyStarted
	}
	room.currentQuestion = 0
	payload, gen := s.beginRoundLocked(room)
	room.mu.Unlock()

	s.log.Info().Str("room", code).Msg("game started")
	s.notifier.BroadcastToRoom(code, "new-question", payload)
	s.armRoundTimer(room, gen)
	return nil
}

// beginRoundLocked moves the room into the collecting state, stamps the
// round start, bumps the round generation and builds the new-question
// payload. Caller holds the room lock and is responsible for broadcasting
// and arming the timer after release.
func (s *GameService) beginRoundLocked(room *Room) (gin.H, uint64) {
	room.state = RoomInProgress
	room.questionStartedAt = time.Now()
	room.generation++

	q := room.questions[room.currentQuestion]
	payload := gin.H{
		"questionIndex":  room.currentQuestion,
		"totalQuestions": len(room.questions),
		"question":       q.Text,
		"options":        q.Options,
		"serverTime":     room.questionStartedAt.UnixMilli(),
		"timeLimit":      room.timeLimit,
	}
	return payload, room.generation
}

func (s *GameService) armRoundTimer(room *Room, gen uint64) {
	timeout := time.Duration(room.timeLimit)*time.Second + s.cfg.LatencyBuffer
	time.AfterFunc(timeout, func() {
		s.completeRound(room, gen, true)
	})
}

// SubmitAnswer records one answer for the active round, scores it, and
// broadcasts a live score snapshot. A duplicate submission for the same
// round is a no-op. When the last missing answer arrives the round completes
// immediately instead of waiting for the timeout.
func (s *GameService) SubmitAnswer(code, clientID string, answerIndex int, responseTime float64) error {
	room, ok := s.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.state != RoomInProgress {
		room.mu.Unlock()
		return nil
	}
	player := room.findPlayer(clientID)
	if player == nil {
		room.mu.Unlock()
		return nil
	}
	idx := room.currentQuestion
	if _, answered := player.Answers[idx]; answered {
		room.mu.Unlock()
		return nil
	}

	rt := responseTime
	if rt < 0 {
		rt = 0
	}
	if rt > float64(room.timeLimit) {
		rt = float64(room.timeLimit)
	}
	player.Answers[idx] = models.Answer{Option: answerIndex, ResponseTime: rt}
	player.Score += Score(answerIndex, room.questions[idx].CorrectAnswer, rt, room.timeLimit)

	players := room.playerViews()
	all := room.allAnswered()
	gen := room.generation
	room.mu.Unlock()

	s.notifier.BroadcastToRoom(code, "score-update", gin.H{"players": players})
	if all {
		s.completeRound(room, gen, false)
	}
	return nil
}

// completeRound moves the round from collecting to scoring: it reveals the
// correct answer, broadcasts results, and schedules the advance to the next
// round. Both the timeout timer and the all-answered fast path land here;
// the state and generation checks make whichever arrives second a no-op.
// The scoring state holds for the whole pause, so nothing can complete the
// same round twice.
func (s *GameService) completeRound(room *Room, gen uint64, timedOut bool) {
	room.mu.Lock()
	if room.state != RoomInProgress || room.generation != gen {
		room.mu.Unlock()
		return
	}

	room.state = RoomScoring
	idx := room.currentQuestion
	if timedOut {
		for _, p := range room.players {
			if _, ok := p.Answers[idx]; !ok {
				p.Answers[idx] = models.Answer{
					Option:       models.NoAnswer,
					ResponseTime: float64(room.timeLimit),
				}
			}
		}
	}

	room.generation++
	next := room.generation
	code := room.code
	correct := room.questions[idx].CorrectAnswer
	players := room.playerViews()
	room.mu.Unlock()

	s.log.Debug().Str("room", code).Int("round", idx).Bool("timedOut", timedOut).Msg("round complete")
	s.notifier.BroadcastToRoom(code, "question-results", gin.H{
		"questionIndex": idx,
		"correctAnswer": correct,
		"players":       players,
	})

	time.AfterFunc(s.cfg.ScoringDelay, func() {
		s.advanceRound(room, next)
	})
}

// advanceRound runs after the scoring pause: next question, or final results
// and room deletion when the question list is exhausted.
func (s *GameService) advanceRound(room *Room, gen uint64) {
	room.mu.Lock()
	if room.state != RoomScoring || room.generation != gen {
		room.mu.Unlock()
		return
	}

	room.currentQuestion++
	if room.currentQuestion >= len(room.questions) {
		room.state = RoomEnded
		code := room.code
		players := room.playerViews()
		room.mu.Unlock()

		sort.SliceStable(players, func(i, j int) bool { return players[i].Score > players[j].Score })
		s.log.Info().Str("room", code).Msg("quiz ended")
		s.notifier.BroadcastToRoom(code, "quiz-ended", gin.H{"players": players})
		s.store.Delete(code)
		return
	}

	payload, nextGen := s.beginRoundLocked(room)
	code := room.code
	room.mu.Unlock()

	s.notifier.BroadcastToRoom(code, "new-question", payload)
	s.armRoundTimer(room, nextGen)
}

// CancelGame aborts the session. Host only. The cancellation notice and the
// deletion happen before returning, so no later timer can find live state.
func (s *GameService) CancelGame(code, clientID string) error {
	room, ok := s.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.hostID != clientID {
		room.mu.Unlock()
		return ErrNotHost
	}
	room.mu.Unlock()

	s.teardown(room, cancelledByHostMessage)
	return nil
}

// RemovePlayer handles a disconnect: the roster update is broadcast, and the
// room is torn down when the host left or nobody remains. A departure while
// a round is still collecting can also complete it, when the leaver was the
// only player still owing an answer; during the scoring pause the departure
// only updates the roster.
func (s *GameService) RemovePlayer(code, clientID string) {
	room, ok := s.store.Get(code)
	if !ok {
		return
	}

	room.mu.Lock()
	found := false
	for i, p := range room.players {
		if p.ID == clientID {
			room.players = append(room.players[:i], room.players[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		room.mu.Unlock()
		return
	}
	players := room.playerViews()
	wasHost := clientID == room.hostID
	empty := len(room.players) == 0
	completes := !empty && room.state == RoomInProgress && room.allAnswered()
	gen := room.generation
	room.mu.Unlock()

	s.log.Info().Str("room", code).Str("client", clientID).Bool("host", wasHost).Msg("player left")
	s.notifier.BroadcastToRoom(code, "player-left", gin.H{"players": players})

	if wasHost || empty {
		s.teardown(room, hostDisconnectedMessage)
		return
	}
	if completes {
		s.completeRound(room, gen, false)
	}
}

// teardown ends the room, invalidates all pending timers via the generation
// bump, notifies members, and deletes the room from the store.
func (s *GameService) teardown(room *Room, message string) {
	room.mu.Lock()
	room.state = RoomEnded
	room.generation++
	code := room.code
	room.mu.Unlock()

	s.log.Info().Str("room", code).Msg("room torn down")
	s.notifier.BroadcastToRoom(code, "game-cancelled", gin.H{"message": message})
	s.store.Delete(code)
}

// SendChat broadcasts a chat message or emoji reaction with a server
// timestamp. Messages for unknown rooms are dropped.
func (s *GameService) SendChat(code, sender, message string, isEmoji bool) {
	if _, ok := s.store.Get(code); !ok {
		return
	}
	s.notifier.BroadcastToRoom(code, "chat-message", gin.H{
		"sender":    sender,
		"message":   message,
		"isEmoji":   isEmoji,
		"timestamp": time.Now().UnixMilli(),
	})
}

// UpdateMediaStatus records a player's speaking/video/mute flags and fans
// the change out to the room.
func (s *GameService) UpdateMediaStatus(code, clientID string, isSpeaking, isVideoOn, isMuted bool) {
	room, ok := s.store.Get(code)
	if !ok {
		return
	}

	room.mu.Lock()
	player := room.findPlayer(clientID)
	if player == nil {
		room.mu.Unlock()
		return
	}
	player.IsSpeaking = isSpeaking
	player.IsVideoOn = isVideoOn
	player.IsMuted = isMuted
	room.mu.Unlock()

	s.notifier.BroadcastToRoom(code, "media-status", gin.H{
		"playerId":   clientID,
		"isSpeaking": isSpeaking,
		"isVideoOn":  isVideoOn,
		"isMuted":    isMuted,
	})
}

// MuteAll sets every player's mute flag. Host only. Muting also clears the
// speaking flag.
func (s *GameService) MuteAll(code, clientID string, muted bool) error {
	room, ok := s.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.hostID != clientID {
		room.mu.Unlock()
		return ErrNotHost
	}
	for _, p := range room.players {
		p.IsMuted = muted
		if muted {
			p.IsSpeaking = false
		}
	}
	room.mu.Unlock()

	s.notifier.BroadcastToRoom(code, "mute-all", gin.H{"muted": muted})
	return nil
}

// StartMediaChat tells everyone else in the room that the sender wants to
// open peer media streams.
func (s *GameService) StartMediaChat(code, clientID string) {
	if _, ok := s.store.Get(code); !ok {
		return
	}
	s.notifier.BroadcastToRoomExcept(code, clientID, "start-media-chat", gin.H{"from": clientID})
}

// RelaySignal forwards a media-signaling payload verbatim to one target
// connection. The payload is never interpreted; a missing target is dropped
// silently by the gateway.
func (s *GameService) RelaySignal(code, targetID, event string, payload any) {
	if _, ok := s.store.Get(code); !ok {
		return
	}
	s.notifier.SendToClient(targetID, event, payload)
}

// SearchSongs runs the upstream song lookup and returns results to the
// requester only. Host only; room state is never touched.
func (s *GameService) SearchSongs(ctx context.Context, code, clientID, query string) error {
	room, ok := s.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	isHost := room.hostID == clientID
	room.mu.Unlock()
	if !isHost {
		return ErrNotHost
	}

	songs, err := s.songs.Search(ctx, query)
	if err != nil {
		s.log.Warn().Err(err).Str("room", code).Str("query", query).Msg("song search failed")
		return err
	}

	s.notifier.SendToClient(clientID, "song-results", gin.H{"songs": songs})
	return nil
}

// PlaySong sets the room's shared selection and broadcasts it. Host only.
func (s *GameService) PlaySong(code, clientID string, song models.Song) error {
	room, ok := s.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.hostID != clientID {
		room.mu.Unlock()
		return ErrNotHost
	}
	room.currentSong = &song
	room.mu.Unlock()

	s.notifier.BroadcastToRoom(code, "play-song", gin.H{"song": song})
	return nil
}

// StopSong clears the shared selection. Host only.
func (s *GameService) StopSong(code, clientID string) error {
	room, ok := s.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.hostID != clientID {
		room.mu.Unlock()
		return ErrNotHost
	}
	room.currentSong = nil
	room.mu.Unlock()

	s.notifier.BroadcastToRoom(code, "stop-song", nil)
	return nil
}

// SyncTime answers a client clock-sync probe with the server time in
// epoch milliseconds.
func (s *GameService) SyncTime(clientID string) {
	s.notifier.SendToClient(clientID, "time-sync", gin.H{"serverTime": time.Now().UnixMilli()})
}
