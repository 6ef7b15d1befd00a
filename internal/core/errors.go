package core

import "errors"

var (
	ErrDeviceQuery      = errors.New("device query failed")
	ErrMediaAcquisition = errors.New("media acquisition failed")
	ErrSignaling        = errors.New("signaling failed")
	ErrAlreadyJoined    = errors.New("room already joined")
	ErrNotJoined        = errors.New("room not joined")
	ErrSessionReleased  = errors.New("session released")
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)
