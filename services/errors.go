package services

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrAlreadyStarted     = errors.New("game already in progress")
	ErrNotHost            = errors.New("requester is not the host")
	ErrQuestionGeneration = errors.New("failed to generate quiz questions")
	ErrNoSongResults      = errors.New("no usable song results")
)
