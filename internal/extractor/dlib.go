//go:build dlib

package extractor

import (
	"context"
	"fmt"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/example/face-auth/internal/biometric"
)

// DlibAvailable reports whether the binary was built with the dlib runtime.
const DlibAvailable = true

type dlibModel struct {
	mu      sync.Mutex
	rec     *face.Recognizer
	maxSide uint
}

// OpenDlib returns an OpenDirFunc that loads the dlib recognizer from a
// model directory. Frames are downscaled to maxSide before recognition.
func OpenDlib(maxSide uint) OpenDirFunc {
	return func(dir string) (Model, error) {
		rec, err := face.NewRecognizer(dir)
		if err != nil {
			return nil, fmt.Errorf("init dlib recognizer: %w", err)
		}
		return &dlibModel{rec: rec, maxSide: maxSide}, nil
	}
}

func (m *dlibModel) Extract(ctx context.Context, frame []byte) (biometric.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jpegFrame, err := NormalizeFrame(frame, m.maxSide)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	faces, err := m.rec.Recognize(jpegFrame)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	if err := FaceCountError(len(faces)); err != nil {
		return nil, err
	}
	desc := [biometric.DefaultDimension]float32(faces[0].Descriptor)
	return biometric.New(desc[:], biometric.DefaultDimension)
}

func (m *dlibModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.Close()
	return nil
}
