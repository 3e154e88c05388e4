package services

import (
	"crypto/rand"
	"sync"
)

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Store owns the mapping from room code to live room. It is the only shared
// structure in the process; everything inside a Room is guarded by that
// room's own lock.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*Room)}
}

// Insert assigns the room a code that is unique among live rooms and
// registers it. Collisions are retried under the same lock, so two rooms can
// never race into the same code.
func (s *Store) Insert(room *Room) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		code := randomRoomCode()
		if _, taken := s.rooms[code]; taken {
			continue
		}
		room.code = code
		s.rooms[code] = room
		return code
	}
}

func (s *Store) Get(code string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

// Delete is idempotent.
func (s *Store) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func randomRoomCode() string {
	// Bytes at or above the largest multiple of the alphabet size are
	// rejected, otherwise the modulo would favor the first few characters.
	limit := 256 - 256%len(roomCodeAlphabet)

	code := make([]byte, 0, roomCodeLength)
	buf := make([]byte, roomCodeLength*2)
	for len(code) < roomCodeLength {
		if _, err := rand.Read(buf); err != nil {
			panic("room code entropy unavailable: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			code = append(code, roomCodeAlphabet[int(b)%len(roomCodeAlphabet)])
			if len(code) == roomCodeLength {
				break
			}
		}
	}
	return string(code)
}
