// Package store keeps tradeoffer poll data across restarts.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	steam "github.com/zergu1ar/steamtrade"
	"github.com/zergu1ar/steamtrade/tradeoffer"
)

var _ tradeoffer.PollStore = (*File)(nil)

// File stores one JSON document per account in Dir. With Compress set the
// documents are zstd compressed and carry a .json.zst suffix.
type File struct {
	Dir      string
	Compress bool
}

func NewFile(dir string, compress bool) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create poll data dir: %w", err)
	}
	return &File{Dir: dir, Compress: compress}, nil
}

func (f *File) path(steamID steam.SteamID) string {
	name := "polldata_" + steamID.String() + ".json"
	if f.Compress {
		name += ".zst"
	}
	return filepath.Join(f.Dir, name)
}

func (f *File) Load(_ context.Context, steamID steam.SteamID) (*tradeoffer.PollData, error) {
	raw, err := os.ReadFile(f.path(steamID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if f.Compress {
		if raw, err = decompress(raw); err != nil {
			return nil, fmt.Errorf("cannot decompress poll data: %w", err)
		}
	}
	return tradeoffer.DecodePollData(raw)
}

// Save writes to a temporary file first and renames it over the old one, so a
// crash never leaves a truncated document behind.
func (f *File) Save(_ context.Context, steamID steam.SteamID, data *tradeoffer.PollData) error {
	raw, err := data.Encode()
	if err != nil {
		return err
	}
	if f.Compress {
		if raw, err = compress(raw); err != nil {
			return err
		}
	}

	target := f.path(steamID)
	tmp, err := os.CreateTemp(f.Dir, filepath.Base(target)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(raw []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
