package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// AssetProvider resolves logical asset names to raw bytes. The engine never
// assumes a specific storage location; absence is reported as an error.
type AssetProvider interface {
	ReadAsset(name string) ([]byte, error)
	OpenAsset(name string) (io.ReadCloser, error)
}

// DirAssets serves assets from a single directory.
type DirAssets struct {
	dir string
}

func NewDirAssets(dir string) *DirAssets {
	return &DirAssets{dir: dir}
}

func (a *DirAssets) resolve(name string) (string, error) {
	clean := filepath.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("empty asset name")
	}
	// Names are logical; never let them escape the asset dir.
	return filepath.Join(a.dir, clean), nil
}

func (a *DirAssets) ReadAsset(name string) ([]byte, error) {
	path, err := a.resolve(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset %q: %w", name, err)
	}
	return b, nil
}

func (a *DirAssets) OpenAsset(name string) (io.ReadCloser, error) {
	path, err := a.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asset %q: %w", name, err)
	}
	return f, nil
}

// beepSource decodes audio assets by extension.
type beepSource struct {
	assets AssetProvider
}

func (s beepSource) OpenTrack(name string) (beep.StreamSeekCloser, beep.Format, error) {
	rc, err := s.assets.OpenAsset(name)
	if err != nil {
		return nil, beep.Format{}, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return mp3.Decode(rc)
	case ".wav":
		return wav.Decode(rc)
	default:
		rc.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format for track %q", name)
	}
}
