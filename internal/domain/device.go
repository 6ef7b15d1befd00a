package domain

import "errors"

var (
	ErrDeviceIDEmpty     = errors.New("device id empty")
	ErrDeviceKindUnknown = errors.New("device kind unknown")
)

// DeviceKind is the capture kind of a device.
type DeviceKind int

const (
	DeviceKindVideo       DeviceKind = iota // Camera
	DeviceKindAudio                         // Microphone
	DeviceKindAudioOutput                   // Speaker/headphones, enumerated but never selected
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindVideo:
		return "video"
	case DeviceKindAudio:
		return "audio"
	case DeviceKindAudioOutput:
		return "audiooutput"
	default:
		return "unknown"
	}
}

// ParseDeviceKind accepts both short ("video") and browser ("videoinput") names.
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch s {
	case "video", "videoinput":
		return DeviceKindVideo, nil
	case "audio", "audioinput":
		return DeviceKindAudio, nil
	case "audiooutput":
		return DeviceKindAudioOutput, nil
	default:
		return 0, ErrDeviceKindUnknown
	}
}

type DeviceID string

// Device is an immutable snapshot reported by the capture API.
type Device struct {
	ID    DeviceID   `json:"deviceId"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

// DevicePair identifies the inputs a local stream was captured from.
// An empty id means "not selected".
type DevicePair struct {
	Video DeviceID
	Audio DeviceID
}

func (p DevicePair) IsZero() bool { return p.Video == "" && p.Audio == "" }

// DeviceSelection is what the user picked, plus the mute flags.
type DeviceSelection struct {
	VideoDeviceID DeviceID `json:"videoDeviceId"`
	AudioDeviceID DeviceID `json:"audioDeviceId"`
	VideoMuted    bool     `json:"isVideoMuted"`
	AudioMuted    bool     `json:"isAudioMuted"`
}

func (s DeviceSelection) Pair() DevicePair {
	return DevicePair{Video: s.VideoDeviceID, Audio: s.AudioDeviceID}
}

// FindDevice reports whether id is present in devices.
func FindDevice(devices []Device, id DeviceID) (Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
