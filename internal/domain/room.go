package domain

import (
	"errors"
	"strings"
)

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrRoomModeUnknown = errors.New("room mode unknown")
	ErrRoomKeyInvalid  = errors.New("room key invalid")
)

const MaxRoomNameLen = 36

type (
	RoomName string
	RoomMode string
	// RoomKey is the signaling channel a room is addressed by: "<mode>/<name>".
	RoomKey string
)

const (
	RoomModeMesh RoomMode = "mesh"
	RoomModeSFU  RoomMode = "sfu"
)

func ParseRoomMode(s string) (RoomMode, error) {
	switch RoomMode(s) {
	case RoomModeMesh, RoomModeSFU:
		return RoomMode(s), nil
	case "":
		return RoomModeSFU, nil
	default:
		return "", ErrRoomModeUnknown
	}
}

func NewRoomKey(mode RoomMode, name RoomName) (RoomKey, error) {
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	if _, err := ParseRoomMode(string(mode)); err != nil {
		return "", err
	}
	return RoomKey(string(mode) + "/" + string(name)), nil
}

// Split returns the mode and name the key was built from.
func (k RoomKey) Split() (RoomMode, RoomName, error) {
	mode, name, ok := strings.Cut(string(k), "/")
	if !ok || name == "" {
		return "", "", ErrRoomKeyInvalid
	}
	m, err := ParseRoomMode(mode)
	if err != nil {
		return "", "", err
	}
	return m, RoomName(name), nil
}

type Room struct {
	Key  RoomKey
	Mode RoomMode
	Name RoomName
}

func NewRoom(key RoomKey) (*Room, error) {
	mode, name, err := key.Split()
	if err != nil {
		return nil, err
	}
	return &Room{Key: key, Mode: mode, Name: name}, nil
}
