package encoder

import (
	"encoding/binary"
	"testing"
)

func TestWavEncoderHeader(t *testing.T) {
	enc := NewWav()

	block := make([]int16, BlockSize)
	for i := range block {
		block[i] = int16(i % 500)
	}
	if err := enc.EncodeBlock(block); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := enc.Bytes()
	if len(out) != wavHeaderSize+len(block)*2 {
		t.Fatalf("output size = %d, want %d", len(out), wavHeaderSize+len(block)*2)
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != SampleRate {
		t.Errorf("sample rate = %d, want %d", got, SampleRate)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(block)*2) {
		t.Errorf("data size = %d, want %d", got, len(block)*2)
	}
	if enc.TotalFrames() != uint64(len(block)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(block))
	}
}

func TestWavEncoderBytesBeforeClose(t *testing.T) {
	enc := NewWav()
	if enc.Bytes() != nil {
		t.Error("Bytes should be nil before Close")
	}
}

func TestNewByFormat(t *testing.T) {
	for _, format := range []string{"flac", "wav"} {
		t.Run(format, func(t *testing.T) {
			enc, err := New(format)
			if err != nil {
				t.Fatalf("New(%q): %v", format, err)
			}
			if enc == nil {
				t.Fatalf("New(%q) returned nil", format)
			}
		})
	}
	t.Run("unknown", func(t *testing.T) {
		if _, err := New("mp3"); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}
