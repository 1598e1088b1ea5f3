package audio

import (
	"errors"
	"fmt"

	"github.com/zaf/g711"
)

// ErrMalformedAudio marks audio payloads the codec cannot process. Callers
// drop the offending frame and keep the call alive.
var ErrMalformedAudio = errors.New("malformed audio payload")

// Codec converts raw audio between the telephony wire format (8-bit mu-law,
// 8 kHz mono) and whatever sample format the AI backend consumes. Both
// directions are pure and stateless.
type Codec interface {
	// EncodeForBackend converts mu-law bytes from the telephony leg into the
	// backend's input format.
	EncodeForBackend(ulaw []byte) ([]byte, error)
	// DecodeFromBackend converts backend output audio back to mu-law for the
	// telephony leg.
	DecodeFromBackend(data []byte) ([]byte, error)
	Name() string
}

// PassThrough is the identity codec, used when the backend negotiates
// g711_ulaw natively in the session handshake.
type PassThrough struct{}

func (PassThrough) Name() string { return "passthrough" }

func (PassThrough) EncodeForBackend(ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedAudio)
	}
	return ulaw, nil
}

func (PassThrough) DecodeFromBackend(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedAudio)
	}
	return data, nil
}

// LPCM16 expands mu-law to 16-bit little-endian linear PCM and compresses it
// back, using the standard G.711 companding tables.
type LPCM16 struct{}

func (LPCM16) Name() string { return "lpcm16" }

func (LPCM16) EncodeForBackend(ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedAudio)
	}
	return g711.DecodeUlaw(ulaw), nil
}

func (LPCM16) DecodeFromBackend(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedAudio)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd-length linear frame (%d bytes)", ErrMalformedAudio, len(pcm))
	}
	return g711.EncodeUlaw(pcm), nil
}
