package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FSStore keeps content under uploadDir as flat files:
// <id>_<hash>.txt for content, <id>_metadata.json for the sidecar.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("upload dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) contentPath(pasteID int64, hash string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%s.txt", pasteID, hash))
}

func (s *FSStore) metadataPath(pasteID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_metadata.json", pasteID))
}

func (s *FSStore) Put(ctx context.Context, pasteID int64, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := HashContent(content)
	tmp := s.contentPath(pasteID, hash) + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", errors.Wrap(err, "write content")
	}
	if err := os.Rename(tmp, s.contentPath(pasteID, hash)); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "finalize content")
	}
	return hash, nil
}

func (s *FSStore) Get(ctx context.Context, pasteID int64, contentHash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.contentPath(pasteID, contentHash))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read content")
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, pasteID int64, contentHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.contentPath(pasteID, contentHash))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "delete content")
	}
	return nil
}

func (s *FSStore) PutMetadata(ctx context.Context, pasteID int64, meta *Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	if err := os.WriteFile(s.metadataPath(pasteID), data, 0o644); err != nil {
		return errors.Wrap(err, "write metadata")
	}
	return nil
}

func (s *FSStore) GetMetadata(ctx context.Context, pasteID int64) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.metadataPath(pasteID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(err, "unmarshal metadata")
	}
	return &meta, nil
}

func (s *FSStore) DeleteMetadata(ctx context.Context, pasteID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.metadataPath(pasteID))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "delete metadata")
	}
	return nil
}
