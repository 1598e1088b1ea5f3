package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestLPCM16RoundTrip(t *testing.T) {
	codec := LPCM16{}
	for b := 0; b < 256; b++ {
		in := []byte{byte(b)}
		pcm, err := codec.EncodeForBackend(in)
		if err != nil {
			t.Fatalf("EncodeForBackend(0x%02x) error = %v", b, err)
		}
		if len(pcm) != 2 {
			t.Fatalf("EncodeForBackend(0x%02x) produced %d bytes, want 2", b, len(pcm))
		}
		out, err := codec.DecodeFromBackend(pcm)
		if err != nil {
			t.Fatalf("DecodeFromBackend error = %v", err)
		}
		if len(out) != 1 {
			t.Fatalf("DecodeFromBackend produced %d bytes, want 1", len(out))
		}
		// 0x7F is negative zero; it expands to the same linear sample as
		// positive zero and compresses back to 0xFF.
		want := byte(b)
		if b == 0x7F {
			want = 0xFF
		}
		if out[0] != want {
			t.Fatalf("round trip of 0x%02x = 0x%02x, want 0x%02x", b, out[0], want)
		}
	}
}

func TestLPCM16FrameSizes(t *testing.T) {
	codec := LPCM16{}
	ulaw := bytes.Repeat([]byte{0xFF}, 160) // one 20ms telephony frame
	pcm, err := codec.EncodeForBackend(ulaw)
	if err != nil {
		t.Fatalf("EncodeForBackend() error = %v", err)
	}
	if len(pcm) != 320 {
		t.Fatalf("EncodeForBackend() produced %d bytes, want 320", len(pcm))
	}
	back, err := codec.DecodeFromBackend(pcm)
	if err != nil {
		t.Fatalf("DecodeFromBackend() error = %v", err)
	}
	if !bytes.Equal(back, ulaw) {
		t.Fatalf("round trip of a silence frame changed the payload")
	}
}

func TestLPCM16RejectsMalformedInput(t *testing.T) {
	codec := LPCM16{}
	if _, err := codec.DecodeFromBackend([]byte{0x01, 0x02, 0x03}); !errors.Is(err, ErrMalformedAudio) {
		t.Fatalf("DecodeFromBackend(odd) error = %v, want ErrMalformedAudio", err)
	}
	if _, err := codec.DecodeFromBackend(nil); !errors.Is(err, ErrMalformedAudio) {
		t.Fatalf("DecodeFromBackend(nil) error = %v, want ErrMalformedAudio", err)
	}
	if _, err := codec.EncodeForBackend(nil); !errors.Is(err, ErrMalformedAudio) {
		t.Fatalf("EncodeForBackend(nil) error = %v, want ErrMalformedAudio", err)
	}
}

func TestPassThroughIsIdentity(t *testing.T) {
	codec := PassThrough{}
	in := []byte{0x00, 0x55, 0xFF}
	out, err := codec.EncodeForBackend(in)
	if err != nil {
		t.Fatalf("EncodeForBackend() error = %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("EncodeForBackend() = %v, want %v", out, in)
	}
	out, err = codec.DecodeFromBackend(in)
	if err != nil {
		t.Fatalf("DecodeFromBackend() error = %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("DecodeFromBackend() = %v, want %v", out, in)
	}
	if _, err := codec.EncodeForBackend(nil); !errors.Is(err, ErrMalformedAudio) {
		t.Fatalf("EncodeForBackend(nil) error = %v, want ErrMalformedAudio", err)
	}
}
