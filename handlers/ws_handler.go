package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"quizparty/models"
	"quizparty/services"
)

// WSHandler decodes, validates and routes every client message. Validation
// and authorization failures are reported only to the requester; no state is
// touched before both pass.
type WSHandler struct {
	game     *services.GameService
	notifier services.Notifier
	validate *validator.Validate
	log      zerolog.Logger
}

func NewWSHandler(game *services.GameService, notifier services.Notifier, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		game:     game,
		notifier: notifier,
		validate: validator.New(),
		log:      log.With().Str("component", "ws").Logger(),
	}
}

type createRoomPayload struct {
	Topic         string `json:"topic" validate:"required,max=100"`
	QuestionCount int    `json:"questionCount" validate:"required,min=1,max=20"`
	PlayerName    string `json:"playerName" validate:"max=24"`
}

type joinRoomPayload struct {
	RoomCode   string `json:"roomCode" validate:"required,len=6"`
	PlayerName string `json:"playerName" validate:"required,max=24"`
}

type submitAnswerPayload struct {
	AnswerIndex  int     `json:"answerIndex" validate:"min=0,max=3"`
	ResponseTime float64 `json:"responseTime" validate:"min=0"`
}

type chatMessagePayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	Message  string `json:"message" validate:"required,max=500"`
	Sender   string `json:"sender" validate:"required,max=24"`
	IsEmoji  bool   `json:"isEmoji"`
}

type mediaStatusPayload struct {
	RoomCode   string `json:"roomCode" validate:"required"`
	IsSpeaking bool   `json:"isSpeaking"`
	IsVideoOn  bool   `json:"isVideoOn"`
	IsMuted    bool   `json:"isMuted"`
}

type muteAllPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	Muted    bool   `json:"muted"`
}

type roomOnlyPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
}

type searchSongPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	Query    string `json:"query" validate:"required,max=200"`
}

type playSongPayload struct {
	RoomCode string      `json:"roomCode" validate:"required"`
	Song     models.Song `json:"song" validate:"required"`
}

func (h *WSHandler) HandleMessage(c *services.Client, msg services.Message) {
	switch msg.Type {
	case "sync-time":
		h.game.SyncTime(c.ID())
	case "create-room":
		h.handleCreateRoom(c, msg.Payload)
	case "join-room":
		h.handleJoinRoom(c, msg.Payload)
	case "start-game":
		h.handleStartGame(c)
	case "cancel-game":
		h.handleCancelGame(c)
	case "submit-answer":
		h.handleSubmitAnswer(c, msg.Payload)
	case "chat-message":
		h.handleChatMessage(c, msg.Payload)
	case "media-status":
		h.handleMediaStatus(c, msg.Payload)
	case "mute-all":
		h.handleMuteAll(c, msg.Payload)
	case "start-media-chat":
		h.handleStartMediaChat(c, msg.Payload)
	case "offer", "answer", "ice-candidate":
		h.handleSignal(c, msg.Type, msg.Payload)
	case "search-song":
		h.handleSearchSong(c, msg.Payload)
	case "play-song":
		h.handlePlaySong(c, msg.Payload)
	case "stop-song":
		h.handleStopSong(c, msg.Payload)
	default:
		h.log.Debug().Str("client", c.ID()).Str("type", msg.Type).Msg("unknown message type")
		h.sendError(c, "Unknown message type.")
	}
}

// HandleDisconnect removes the connection's player from its room, which may
// tear the room down when the host or the last player left.
func (h *WSHandler) HandleDisconnect(c *services.Client) {
	room := c.Room()
	if room == "" {
		return
	}
	h.game.RemovePlayer(room, c.ID())
}

func (h *WSHandler) handleCreateRoom(c *services.Client, raw json.RawMessage) {
	var p createRoomPayload
	if err := h.bind(raw, &p); err != nil {
		h.sendError(c, "Invalid room request. Check topic, question count and name.")
		return
	}

	code, err := h.game.CreateRoom(context.Background(), c.ID(), p.Topic, p.QuestionCount, p.PlayerName)
	if err != nil {
		h.sendError(c, "Failed to generate quiz questions. Please try again.")
		return
	}
	c.SetRoom(code)
}

func (h *WSHandler) handleJoinRoom(c *services.Client, raw json.RawMessage) {
	var p joinRoomPayload
	if err := h.bind(raw, &p); err != nil {
		h.sendError(c, "Invalid join request. Check the room code and your name.")
		return
	}

	code := normalizeRoomCode(p.RoomCode)
	if err := h.game.JoinRoom(code, c.ID(), p.PlayerName); err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyStarted):
			h.sendError(c, "Game already in progress. Please try another room.")
		case errors.Is(err, services.ErrRoomFull):
			h.sendError(c, "Room is full. Maximum 10 players allowed.")
		default:
			h.sendError(c, "Room not found. Please check the room code.")
		}
		return
	}
	c.SetRoom(code)
}

func (h *WSHandler) handleStartGame(c *services.Client) {
	room := c.Room()
	if room == "" {
		h.sendError(c, "Room not found.")
		return
	}
	if err := h.game.StartGame(room, c.ID()); err != nil {
		if errors.Is(err, services.ErrNotHost) {
			h.sendError(c, "Only the host can start the game.")
			return
		}
		h.sendError(c, "Room not found.")
	}
}

func (h *WSHandler) handleCancelGame(c *services.Client) {
	room := c.Room()
	if room == "" {
		h.sendError(c, "Room not found.")
		return
	}
	if err := h.game.CancelGame(room, c.ID()); err != nil {
		if errors.Is(err, services.ErrNotHost) {
			h.sendError(c, "Only the host can cancel the game.")
			return
		}
		h.sendError(c, "Room not found.")
	}
}

func (h *WSHandler) handleSubmitAnswer(c *services.Client, raw json.RawMessage) {
	var p submitAnswerPayload
	if err := h.bind(raw, &p); err != nil {
		h.sendError(c, "Invalid answer.")
		return
	}

	room := c.Room()
	if room == "" {
		return
	}
	h.game.SubmitAnswer(room, c.ID(), p.AnswerIndex, p.ResponseTime)
}

func (h *WSHandler) handleChatMessage(c *services.Client, raw json.RawMessage) {
	var p chatMessagePayload
	if err := h.bind(raw, &p); err != nil {
		return
	}
	h.game.SendChat(normalizeRoomCode(p.RoomCode), p.Sender, p.Message, p.IsEmoji)
}

func (h *WSHandler) handleMediaStatus(c *services.Client, raw json.RawMessage) {
	var p mediaStatusPayload
	if err := h.bind(raw, &p); err != nil {
		return
	}
	h.game.UpdateMediaStatus(normalizeRoomCode(p.RoomCode), c.ID(), p.IsSpeaking, p.IsVideoOn, p.IsMuted)
}

func (h *WSHandler) handleMuteAll(c *services.Client, raw json.RawMessage) {
	var p muteAllPayload
	if err := h.bind(raw, &p); err != nil {
		return
	}
	if err := h.game.MuteAll(normalizeRoomCode(p.RoomCode), c.ID(), p.Muted); err != nil {
		if errors.Is(err, services.ErrNotHost) {
			h.sendError(c, "Only the host can mute all players.")
			return
		}
		h.sendError(c, "Room not found.")
	}
}

func (h *WSHandler) handleStartMediaChat(c *services.Client, raw json.RawMessage) {
	var p roomOnlyPayload
	if err := h.bind(raw, &p); err != nil {
		return
	}
	h.game.StartMediaChat(normalizeRoomCode(p.RoomCode), c.ID())
}

// handleSignal relays a connection-negotiation payload to one peer. The
// payload is forwarded untouched except for stripping the routing fields and
// stamping the sender id.
func (h *WSHandler) handleSignal(c *services.Client, event string, raw json.RawMessage) {
	roomCode, target, forward, err := parseSignal(raw, c.ID())
	if err != nil {
		return
	}
	h.game.RelaySignal(roomCode, target, event, forward)
}

func parseSignal(raw json.RawMessage, from string) (roomCode, target string, forward map[string]any, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", "", nil, err
	}
	if err := json.Unmarshal(fields["roomCode"], &roomCode); err != nil {
		return "", "", nil, err
	}
	if err := json.Unmarshal(fields["to"], &target); err != nil {
		return "", "", nil, err
	}
	if roomCode == "" || target == "" {
		return "", "", nil, fmt.Errorf("signal payload missing routing fields")
	}

	delete(fields, "roomCode")
	delete(fields, "to")
	forward = make(map[string]any, len(fields)+1)
	for k, v := range fields {
		forward[k] = v
	}
	forward["from"] = from
	return normalizeRoomCode(roomCode), target, forward, nil
}

func (h *WSHandler) handleSearchSong(c *services.Client, raw json.RawMessage) {
	var p searchSongPayload
	if err := h.bind(raw, &p); err != nil {
		h.sendError(c, "Invalid song search.")
		return
	}

	err := h.game.SearchSongs(context.Background(), normalizeRoomCode(p.RoomCode), c.ID(), p.Query)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNotHost):
		h.sendError(c, "Only the host can search songs.")
	case errors.Is(err, services.ErrRoomNotFound):
		h.sendError(c, "Room not found.")
	case errors.Is(err, services.ErrNoSongResults):
		h.sendError(c, "No valid video results found. Try a different search term.")
	default:
		h.sendError(c, "Failed to search songs. Please try a different search term.")
	}
}

func (h *WSHandler) handlePlaySong(c *services.Client, raw json.RawMessage) {
	var p playSongPayload
	if err := h.bind(raw, &p); err != nil {
		return
	}
	if err := h.game.PlaySong(normalizeRoomCode(p.RoomCode), c.ID(), p.Song); err != nil {
		if errors.Is(err, services.ErrNotHost) {
			h.sendError(c, "Only the host can play songs.")
			return
		}
		h.sendError(c, "Room not found.")
	}
}

func (h *WSHandler) handleStopSong(c *services.Client, raw json.RawMessage) {
	var p roomOnlyPayload
	if err := h.bind(raw, &p); err != nil {
		return
	}
	if err := h.game.StopSong(normalizeRoomCode(p.RoomCode), c.ID()); err != nil {
		if errors.Is(err, services.ErrNotHost) {
			h.sendError(c, "Only the host can stop songs.")
			return
		}
		h.sendError(c, "Room not found.")
	}
}

func (h *WSHandler) bind(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	return h.validate.Struct(out)
}

func (h *WSHandler) sendError(c *services.Client, message string) {
	h.notifier.SendToClient(c.ID(), "error", gin.H{"message": message})
}

// Room codes are case-insensitive on the way in, uppercase everywhere else.
func normalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
