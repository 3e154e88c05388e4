package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizparty/models"
)

type stubQuestionSource struct {
	err error
}

func (s *stubQuestionSource) GenerateQuestions(_ context.Context, topic string, count int) ([]models.Question, error) {
	if s.err != nil {
		return nil, s.err
	}
	questions := make([]models.Question, count)
	for i := range questions {
		questions[i] = models.Question{
			Text:          fmt.Sprintf("question %d about %s", i, topic),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: 2,
		}
	}
	return questions, nil
}

type stubSongSearcher struct {
	songs []models.Song
	err   error
}

func (s *stubSongSearcher) Search(context.Context, string) ([]models.Song, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.songs, nil
}

type recordedEvent struct {
	Room    string
	Client  string
	Except  string
	Type    string
	Payload any
}

func (e recordedEvent) payload(t *testing.T) gin.H {
	t.Helper()
	h, ok := e.Payload.(gin.H)
	require.True(t, ok, "payload of %s is not gin.H", e.Type)
	return h
}

func (e recordedEvent) players(t *testing.T) []models.Player {
	t.Helper()
	players, ok := e.payload(t)["players"].([]models.Player)
	require.True(t, ok, "payload of %s has no players", e.Type)
	return players
}

type recorderNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorderNotifier) BroadcastToRoom(roomCode, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Room: roomCode, Type: event, Payload: payload})
}

func (r *recorderNotifier) BroadcastToRoomExcept(roomCode, exceptID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Room: roomCode, Except: exceptID, Type: event, Payload: payload})
}

func (r *recorderNotifier) SendToClient(clientID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Client: clientID, Type: event, Payload: payload})
}

func (r *recorderNotifier) ofType(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Type == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorderNotifier) count(event string) int {
	return len(r.ofType(event))
}

func (r *recorderNotifier) last(t *testing.T, event string) recordedEvent {
	t.Helper()
	events := r.ofType(event)
	require.NotEmpty(t, events, "no %s event recorded", event)
	return events[len(events)-1]
}

func defaultTestConfig() GameConfig {
	return GameConfig{
		MaxPlayers:        10,
		QuestionTimeLimit: 30,
		LatencyBuffer:     2 * time.Second,
		ScoringDelay:      25 * time.Millisecond,
	}
}

func newTestGame(cfg GameConfig) (*GameService, *recorderNotifier, *Store) {
	store := NewStore()
	rec := &recorderNotifier{}
	svc := NewGameService(store, &stubQuestionSource{}, &stubSongSearcher{}, rec, cfg, zerolog.Nop())
	return svc, rec, store
}

func mustCreateRoom(t *testing.T, svc *GameService, hostID string, questionCount int) string {
	t.Helper()
	code, err := svc.CreateRoom(context.Background(), hostID, "history", questionCount, "alice")
	require.NoError(t, err)
	return code
}

func TestCreateRoom(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())

	code := mustCreateRoom(t, svc, "host-1", 5)
	require.Len(t, code, 6)

	room, ok := store.Get(code)
	require.True(t, ok)
	assert.Equal(t, RoomLobby, room.state)
	assert.Equal(t, "host-1", room.hostID)
	assert.Len(t, room.questions, 5)
	assert.Equal(t, 30, room.timeLimit)

	created := rec.last(t, "room-created")
	assert.Equal(t, "host-1", created.Client)
	assert.Equal(t, code, created.payload(t)["roomCode"])
	require.Len(t, created.players(t), 1)
	assert.Equal(t, "alice", created.players(t)[0].Name)
}

func TestCreateRoom_DefaultHostName(t *testing.T) {
	svc, rec, _ := newTestGame(defaultTestConfig())

	_, err := svc.CreateRoom(context.Background(), "host-1", "history", 3, "")
	require.NoError(t, err)
	assert.Equal(t, "Host", rec.last(t, "room-created").players(t)[0].Name)
}

func TestCreateRoom_GenerationFailure(t *testing.T) {
	store := NewStore()
	rec := &recorderNotifier{}
	source := &stubQuestionSource{err: errors.New("model unavailable")}
	svc := NewGameService(store, source, &stubSongSearcher{}, rec, defaultTestConfig(), zerolog.Nop())

	_, err := svc.CreateRoom(context.Background(), "host-1", "history", 5, "alice")
	require.ErrorIs(t, err, ErrQuestionGeneration)
	assert.Equal(t, 0, store.Len(), "no room may be retained on upstream failure")
	assert.Zero(t, rec.count("room-created"))
}

func TestJoinRoom(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 3)

	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))

	room, _ := store.Get(code)
	require.Len(t, room.players, 2)
	assert.Equal(t, "alice", room.players[0].Name, "join order is preserved")
	assert.Equal(t, "bob", room.players[1].Name)

	joined := rec.last(t, "player-joined")
	assert.Equal(t, code, joined.Room)
	assert.Len(t, joined.players(t), 2)

	targeted := rec.last(t, "room-joined")
	assert.Equal(t, "player-2", targeted.Client)
	assert.Equal(t, code, targeted.payload(t)["roomCode"])
}

func TestJoinRoom_Failures(t *testing.T) {
	svc, _, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 3)

	assert.ErrorIs(t, svc.JoinRoom("ZZZZZZ", "p", "bob"), ErrRoomNotFound)

	for i := 0; i < 9; i++ {
		require.NoError(t, svc.JoinRoom(code, fmt.Sprintf("player-%d", i), fmt.Sprintf("p%d", i)))
	}
	assert.ErrorIs(t, svc.JoinRoom(code, "one-too-many", "late"), ErrRoomFull)

	room, _ := store.Get(code)
	assert.Len(t, room.players, 10, "rejected join must not change the roster")

	require.NoError(t, svc.StartGame(code, "host-1"))
	assert.ErrorIs(t, svc.JoinRoom(code, "after-start", "late"), ErrAlreadyStarted)
}

func TestStartGame(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 5)

	assert.ErrorIs(t, svc.StartGame(code, "not-the-host"), ErrNotHost)
	assert.Zero(t, rec.count("new-question"))

	require.NoError(t, svc.StartGame(code, "host-1"))

	room, _ := store.Get(code)
	assert.Equal(t, RoomInProgress, room.state)
	assert.Equal(t, 0, room.currentQuestion)

	question := rec.last(t, "new-question")
	payload := question.payload(t)
	assert.Equal(t, code, question.Room)
	assert.Equal(t, 0, payload["questionIndex"])
	assert.Equal(t, 5, payload["totalQuestions"])
	assert.Equal(t, 30, payload["timeLimit"])
	assert.NotEmpty(t, payload["question"])
	assert.Len(t, payload["options"], 4)
	assert.Greater(t, payload["serverTime"], int64(0))

	assert.ErrorIs(t, svc.StartGame(code, "host-1"), ErrAlreadyStarted)
}

func TestSubmitAnswer_ScoresAndAdvancesEarly(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 2)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))
	require.NoError(t, svc.JoinRoom(code, "player-3", "carol"))
	require.NoError(t, svc.StartGame(code, "host-1"))

	// Stub questions are all correct at option 2.
	require.NoError(t, svc.SubmitAnswer(code, "host-1", 2, 2.0))
	require.NoError(t, svc.SubmitAnswer(code, "player-2", 2, 29.0))
	assert.Zero(t, rec.count("question-results"), "round must not complete before full coverage")

	require.NoError(t, svc.SubmitAnswer(code, "player-3", 0, 1.0))

	// Full coverage completes the round immediately, long before the 30s
	// timeout could fire.
	results := rec.last(t, "question-results")
	payload := results.payload(t)
	assert.Equal(t, 0, payload["questionIndex"])
	assert.Equal(t, 2, payload["correctAnswer"])

	players := results.players(t)
	require.Len(t, players, 3)
	assert.Equal(t, 24, players[0].Score) // 10 + floor(0.5*28)
	assert.Equal(t, 10, players[1].Score) // 10 + floor(0.5*1)
	assert.Equal(t, 0, players[2].Score)  // wrong answer

	assert.GreaterOrEqual(t, rec.count("score-update"), 3)

	// After the scoring pause the next round begins.
	require.Eventually(t, func() bool {
		return rec.count("new-question") == 2
	}, time.Second, 5*time.Millisecond)

	room, _ := store.Get(code)
	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, 1, room.currentQuestion)
}

func TestSubmitAnswer_DuplicateIsIdempotent(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 2)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))
	require.NoError(t, svc.StartGame(code, "host-1"))

	require.NoError(t, svc.SubmitAnswer(code, "host-1", 2, 5.0))
	scoreUpdates := rec.count("score-update")

	require.NoError(t, svc.SubmitAnswer(code, "host-1", 2, 0.0))

	room, _ := store.Get(code)
	room.mu.Lock()
	host := room.findPlayer("host-1")
	score := host.Score
	answer := host.Answers[0]
	room.mu.Unlock()

	assert.Equal(t, 22, score, "second submission must not change the score") // 10 + floor(0.5*25)
	assert.Equal(t, 5.0, answer.ResponseTime)
	assert.Equal(t, scoreUpdates, rec.count("score-update"), "duplicate must not broadcast")
}

func TestSubmitAnswer_UnknownRoom(t *testing.T) {
	svc, _, _ := newTestGame(defaultTestConfig())
	assert.ErrorIs(t, svc.SubmitAnswer("ZZZZZZ", "p", 0, 1), ErrRoomNotFound)
}

func TestRoundTimeout_AssignsNoAnswerSentinel(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.QuestionTimeLimit = 0
	cfg.LatencyBuffer = 20 * time.Millisecond
	svc, rec, store := newTestGame(cfg)

	code := mustCreateRoom(t, svc, "host-1", 2)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))
	require.NoError(t, svc.StartGame(code, "host-1"))

	require.NoError(t, svc.SubmitAnswer(code, "host-1", 2, 0))

	// player-2 never answers; the timeout must still complete the round.
	require.Eventually(t, func() bool {
		return rec.count("question-results") == 1
	}, time.Second, 5*time.Millisecond)

	room, _ := store.Get(code)
	room.mu.Lock()
	answer, answered := room.findPlayer("player-2").Answers[0]
	room.mu.Unlock()
	require.True(t, answered)
	assert.Equal(t, models.NoAnswer, answer.Option)
	assert.Equal(t, float64(cfg.QuestionTimeLimit), answer.ResponseTime)

	players := rec.last(t, "question-results").players(t)
	require.Len(t, players, 2)
	assert.Equal(t, 10, players[0].Score)
	assert.Equal(t, 0, players[1].Score)
}

func TestQuizEnd_SortsPlayersAndDeletesRoom(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 1)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))
	require.NoError(t, svc.StartGame(code, "host-1"))

	require.NoError(t, svc.SubmitAnswer(code, "host-1", 0, 1.0)) // wrong
	require.NoError(t, svc.SubmitAnswer(code, "player-2", 2, 1.0))

	require.Eventually(t, func() bool {
		return rec.count("quiz-ended") == 1
	}, time.Second, 5*time.Millisecond)

	players := rec.last(t, "quiz-ended").players(t)
	require.Len(t, players, 2)
	assert.Equal(t, "bob", players[0].Name, "final results are sorted by score descending")
	assert.GreaterOrEqual(t, players[0].Score, players[1].Score)

	_, ok := store.Get(code)
	assert.False(t, ok, "room is deleted after completion")
}

func TestCancelGame(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 3)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))

	assert.ErrorIs(t, svc.CancelGame(code, "player-2"), ErrNotHost)
	_, ok := store.Get(code)
	require.True(t, ok)

	require.NoError(t, svc.CancelGame(code, "host-1"))
	cancelled := rec.last(t, "game-cancelled")
	assert.Equal(t, "The game has been cancelled by the host.", cancelled.payload(t)["message"])

	_, ok = store.Get(code)
	assert.False(t, ok)
	assert.ErrorIs(t, svc.CancelGame(code, "host-1"), ErrRoomNotFound)
}

func TestCancelGame_InvalidatesPendingAdvance(t *testing.T) {
	svc, rec, _ := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 3)
	require.NoError(t, svc.StartGame(code, "host-1"))
	require.NoError(t, svc.SubmitAnswer(code, "host-1", 2, 1.0))

	// The advance to round 1 is now pending behind the scoring delay.
	require.Equal(t, 1, rec.count("question-results"))
	require.NoError(t, svc.CancelGame(code, "host-1"))

	time.Sleep(4 * defaultTestConfig().ScoringDelay)
	assert.Equal(t, 1, rec.count("new-question"), "no round may start after cancellation")
}

func TestHostDisconnect_TearsDownRoom(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 3)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))
	require.NoError(t, svc.StartGame(code, "host-1"))

	svc.RemovePlayer(code, "host-1")

	left := rec.last(t, "player-left")
	assert.Len(t, left.players(t), 1)
	cancelled := rec.last(t, "game-cancelled")
	assert.Equal(t, "The game has been cancelled due to host disconnection.", cancelled.payload(t)["message"])

	_, ok := store.Get(code)
	assert.False(t, ok, "room is irrecoverably gone")
	assert.ErrorIs(t, svc.StartGame(code, "host-1"), ErrRoomNotFound)
}

func TestLastPlayerLeaving_DeletesRoom(t *testing.T) {
	svc, _, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 3)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))

	// Non-host leaves first; room survives.
	svc.RemovePlayer(code, "player-2")
	_, ok := store.Get(code)
	require.True(t, ok)

	svc.RemovePlayer(code, "host-1")
	_, ok = store.Get(code)
	assert.False(t, ok)
}

func TestDisconnectOfOnlyMissingAnswerer_CompletesRound(t *testing.T) {
	svc, rec, _ := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 2)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))
	require.NoError(t, svc.JoinRoom(code, "player-3", "carol"))
	require.NoError(t, svc.StartGame(code, "host-1"))

	require.NoError(t, svc.SubmitAnswer(code, "host-1", 2, 1.0))
	require.NoError(t, svc.SubmitAnswer(code, "player-2", 2, 1.0))
	require.Zero(t, rec.count("question-results"))

	svc.RemovePlayer(code, "player-3")

	assert.Equal(t, 1, rec.count("question-results"), "round completes once the only holdout leaves")
}

func TestDisconnectDuringScoringPause_DoesNotRepeatResults(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 2)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))
	require.NoError(t, svc.JoinRoom(code, "player-3", "carol"))
	require.NoError(t, svc.StartGame(code, "host-1"))

	require.NoError(t, svc.SubmitAnswer(code, "host-1", 2, 1.0))
	require.NoError(t, svc.SubmitAnswer(code, "player-2", 2, 1.0))
	require.NoError(t, svc.SubmitAnswer(code, "player-3", 2, 1.0))
	require.Equal(t, 1, rec.count("question-results"))

	room, _ := store.Get(code)
	room.mu.Lock()
	state := room.state
	room.mu.Unlock()
	require.Equal(t, RoomScoring, state)

	// Everyone left has answered, so a departure here must not count as
	// reaching full coverage again.
	svc.RemovePlayer(code, "player-3")
	assert.Equal(t, 1, rec.count("question-results"), "results for a round are broadcast exactly once")

	// The advance scheduled before the disconnect still runs on time.
	require.Eventually(t, func() bool {
		return rec.count("new-question") == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count("question-results"))
}

func TestMediaStatusAndMuteAll(t *testing.T) {
	svc, rec, store := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 2)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))

	svc.UpdateMediaStatus(code, "player-2", true, true, false)

	room, _ := store.Get(code)
	room.mu.Lock()
	player := *room.findPlayer("player-2")
	room.mu.Unlock()
	assert.True(t, player.IsSpeaking)
	assert.True(t, player.IsVideoOn)

	status := rec.last(t, "media-status")
	assert.Equal(t, "player-2", status.payload(t)["playerId"])

	assert.ErrorIs(t, svc.MuteAll(code, "player-2", true), ErrNotHost)
	require.NoError(t, svc.MuteAll(code, "host-1", true))

	room.mu.Lock()
	player = *room.findPlayer("player-2")
	room.mu.Unlock()
	assert.True(t, player.IsMuted)
	assert.False(t, player.IsSpeaking, "muting clears the speaking flag")
	assert.Equal(t, true, rec.last(t, "mute-all").payload(t)["muted"])
}

func TestSendChat(t *testing.T) {
	svc, rec, _ := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 2)

	svc.SendChat(code, "alice", "hello", false)
	msg := rec.last(t, "chat-message")
	payload := msg.payload(t)
	assert.Equal(t, "alice", payload["sender"])
	assert.Equal(t, "hello", payload["message"])
	assert.Greater(t, payload["timestamp"], int64(0))

	svc.SendChat("ZZZZZZ", "alice", "hello", false)
	assert.Equal(t, 1, rec.count("chat-message"), "chat to unknown rooms is dropped")
}

func TestSongControls(t *testing.T) {
	store := NewStore()
	rec := &recorderNotifier{}
	songs := []models.Song{{Title: "Song A", URL: "https://www.youtube.com/watch?v=abc", Thumbnail: "https://t/1.jpg"}}
	svc := NewGameService(store, &stubQuestionSource{}, &stubSongSearcher{songs: songs}, rec, defaultTestConfig(), zerolog.Nop())

	code, err := svc.CreateRoom(context.Background(), "host-1", "history", 2, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.JoinRoom(code, "player-2", "bob"))

	assert.ErrorIs(t, svc.SearchSongs(context.Background(), code, "player-2", "jazz"), ErrNotHost)
	require.NoError(t, svc.SearchSongs(context.Background(), code, "host-1", "jazz"))
	results := rec.last(t, "song-results")
	assert.Equal(t, "host-1", results.Client, "song results go only to the requester")

	require.NoError(t, svc.PlaySong(code, "host-1", songs[0]))
	room, _ := store.Get(code)
	room.mu.Lock()
	current := room.currentSong
	room.mu.Unlock()
	require.NotNil(t, current)
	assert.Equal(t, "Song A", current.Title)

	// A late joiner sees the current selection.
	rec2 := rec.last(t, "play-song")
	assert.Equal(t, code, rec2.Room)

	require.NoError(t, svc.StopSong(code, "host-1"))
	room.mu.Lock()
	assert.Nil(t, room.currentSong)
	room.mu.Unlock()
	assert.Equal(t, 1, rec.count("stop-song"))
}

func TestStartMediaChat_ExcludesInitiator(t *testing.T) {
	svc, rec, _ := newTestGame(defaultTestConfig())
	code := mustCreateRoom(t, svc, "host-1", 2)

	svc.StartMediaChat(code, "host-1")
	event := rec.last(t, "start-media-chat")
	assert.Equal(t, "host-1", event.Except)
	assert.Equal(t, "host-1", event.payload(t)["from"])
}

func TestSyncTime(t *testing.T) {
	svc, rec, _ := newTestGame(defaultTestConfig())
	svc.SyncTime("client-1")

	event := rec.last(t, "time-sync")
	assert.Equal(t, "client-1", event.Client)
	assert.InDelta(t, time.Now().UnixMilli(), event.payload(t)["serverTime"], 5000)
}
