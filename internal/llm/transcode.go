package llm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// transcodeVoiceNote converts a WhatsApp voice note (OGG/Opus) into a 16 kHz
// mono MP3 suitable for Whisper. All intermediate artifacts live in one
// temporary directory removed on every exit path.
func transcodeVoiceNote(ctx context.Context, audio []byte) ([]byte, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	dir, err := os.MkdirTemp("", "chatrelay-audio-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.ogg")
	outPath := filepath.Join(dir, "out.mp3")
	if err = os.WriteFile(inPath, audio, 0o600); err != nil {
		return nil, fmt.Errorf("write voice note: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-i", inPath,
		"-acodec", "libmp3lame",
		"-ar", "16000",
		"-ac", "1",
		outPath,
		"-y",
	)
	if output, errRun := cmd.CombinedOutput(); errRun != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", errRun, tail(output, 200))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read transcoded audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ffmpeg produced an empty file")
	}
	return data, nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}
