package ui

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// maxAttachmentBytes caps inline attachments so a frame stays comfortably
// inside one SCTP message.
const maxAttachmentBytes = 48 << 10

// ChatPayload is the payload of "chat" envelopes.
type ChatPayload struct {
	Text string `json:"text"`
}

// FilePayload is the payload of "file" envelopes: a small attachment
// inlined as base64 with its sniffed media type.
type FilePayload struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// buildFilePayload reads and packages the file at path for sending.
func buildFilePayload(path string) (FilePayload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FilePayload{}, fmt.Errorf("failed to stat attachment: %w", err)
	}
	if info.Size() > maxAttachmentBytes {
		return FilePayload{}, fmt.Errorf("attachment %q is %d bytes, limit is %d", filepath.Base(path), info.Size(), maxAttachmentBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FilePayload{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return FilePayload{
		Name: filepath.Base(path),
		Mime: mimetype.Detect(data).String(),
		Size: info.Size(),
		Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// saveFilePayload writes a received attachment next to the working
// directory, refusing path traversal in the advertised name.
func saveFilePayload(p FilePayload) (string, error) {
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode attachment body: %w", err)
	}
	name := "received-" + filepath.Base(p.Name)
	if err := os.WriteFile(name, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save attachment: %w", err)
	}
	return name, nil
}
