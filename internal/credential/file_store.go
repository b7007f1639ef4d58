package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/dentalfront/internal/model"
)

// FileStore はJSONファイルに保存するStore。
// ファイルはキー名→値のオブジェクトで、書き込みは一時ファイルからのrenameで置き換える。
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore はFileStoreを生成する。ファイルは最初のSaveで作成される。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path は保存先のファイルパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// Load は保存済みのCredentialを返す。ファイルが無い場合は(nil, nil)。
func (s *FileStore) Load(ctx context.Context) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return fromValues(values), nil
}

// Save は2つのトークンを書き込む。ファイルのパーミッションは0600。
func (s *FileStore) Save(ctx context.Context, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(map[string]string{
		AccessTokenKey:  cred.Access,
		RefreshTokenKey: cred.Refresh,
	})
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// Clear はファイルごと削除する。
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*FileStore)(nil)
