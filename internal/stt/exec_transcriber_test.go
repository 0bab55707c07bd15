package stt

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-audio/wav"
)

func TestExecTranscriber(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "stt.sh")
	body := "#!/bin/sh\necho '{\"text\":\"from script\",\"confidence\":0.5}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	tr, err := NewExecTranscriber(ExecOptions{Command: script, Locale: "en-US"})
	if err != nil {
		t.Fatalf("new exec transcriber: %v", err)
	}
	res, err := tr.Transcribe(context.Background(), []byte{1, 0, 2, 0}, 16000, 1, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "from script" || res.Confidence != 0.5 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecTranscriberRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecTranscriber(ExecOptions{Command: "  "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestWritePCMAsWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := WritePCMAsWav(f, []byte{0x10, 0x00, 0xF0, 0xFF}, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	f.Close()

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()
	dec := wav.NewDecoder(in)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 16000 || len(buf.Data) != 2 || buf.Data[0] != 16 || buf.Data[1] != -16 {
		t.Fatalf("unexpected decoded wav rate=%d data=%v", dec.SampleRate, buf.Data)
	}
	if err := WritePCMAsWav(f, []byte{1}, 16000, 1); err == nil {
		t.Fatal("expected alignment error")
	}
}
