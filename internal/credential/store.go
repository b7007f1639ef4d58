// Package credential はバックエンドが発行したトークン（Credential）の永続化を提供する。
//
// Credentialはアクセストークンとリフレッシュトークンの2つの文字列からなり、
// 固定キーのキーバリューストアに保存する。2つは常に同時に保存・削除する。
// プロセスの再起動をまたいで保持するため、ファイルまたはPostgreSQLの実装を用意する。
package credential

import (
	"context"
	"sync"

	"github.com/hitoshi/dentalfront/internal/model"
)

// 固定キー名
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Store はCredentialの保存先のインターフェース。
type Store interface {
	// Load は保存済みのCredentialを返す。アクセストークンが無い場合は(nil, nil)を返す。
	Load(ctx context.Context) (*model.Credential, error)
	// Save は2つのトークンをまとめて保存する。
	Save(ctx context.Context, cred model.Credential) error
	// Clear は2つのトークンをまとめて削除する。未保存でもエラーにしない。
	Clear(ctx context.Context) error
}

// MemoryStore はプロセス内メモリに保持するStore。テストとCREDENTIAL_STORE=memory用。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Load は保存済みのCredentialを返す。
func (s *MemoryStore) Load(ctx context.Context) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fromValues(s.values), nil
}

// Save は2つのトークンを保存する。
func (s *MemoryStore) Save(ctx context.Context, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[AccessTokenKey] = cred.Access
	s.values[RefreshTokenKey] = cred.Refresh
	return nil
}

// Clear は2つのトークンを削除する。
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, AccessTokenKey)
	delete(s.values, RefreshTokenKey)
	return nil
}

// fromValues はキーバリューからCredentialを組み立てる。
// アクセストークンが空の場合は未認証としてnilを返す。
func fromValues(values map[string]string) *model.Credential {
	cred := &model.Credential{
		Access:  values[AccessTokenKey],
		Refresh: values[RefreshTokenKey],
	}
	if cred.Empty() {
		return nil
	}
	return cred
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
