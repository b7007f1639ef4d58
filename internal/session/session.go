// Package session はログイン中のユーザー（Identity）を保持するセッションストアを提供する。
//
// 状態はResolving（起動直後）からAuthenticatedまたはAnonymousへ遷移する。
// Identityは永続化せず、保存済みCredentialからバックエンドに問い合わせて毎回導出する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/dentalfront/internal/credential"
	"github.com/hitoshi/dentalfront/internal/metrics"
	"github.com/hitoshi/dentalfront/internal/model"
)

// State はセッションの状態。
type State string

const (
	StateResolving     State = "resolving"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

// Gateway はセッションストアが使うバックエンド操作。gateway.Clientがこれを満たす。
type Gateway interface {
	IssueToken(ctx context.Context, username, password string) (*model.Credential, error)
	Register(ctx context.Context, req model.RegisterRequest) (*model.Identity, error)
	CurrentIdentity(ctx context.Context) (*model.Identity, error)
}

// Snapshot はある時点のセッション状態のコピー。
type Snapshot struct {
	State    State           `json:"state"`
	Identity *model.Identity `json:"identity"`
}

// Store はセッションストア。並行して呼び出してよい。
type Store struct {
	gw      Gateway
	creds   credential.Store
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	mu       sync.RWMutex
	state    State
	identity *model.Identity
}

// NewStore はResolving状態のStoreを生成する。Initを呼ぶまで状態は確定しない。
func NewStore(gw Gateway, creds credential.Store, logger *slog.Logger, mc metrics.MetricsCollector) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Store{
		gw:      gw,
		creds:   creds,
		logger:  logger,
		metrics: mc,
		now:     time.Now,
		state:   StateResolving,
	}
}

// Init は保存済みCredentialからIdentityを解決して状態を確定させる。
//
// Credentialが無ければ通信せずにAnonymousへ遷移する。
// 期限切れのアクセストークン、またはIdentityの解決に失敗した場合はCredentialを削除してAnonymousへ遷移する。
func (s *Store) Init(ctx context.Context) State {
	cred, err := s.creds.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load credential",
			slog.String("error", err.Error()),
		)
		s.clearCredential(ctx)
		return s.becomeAnonymous()
	}
	if cred.Empty() {
		return s.becomeAnonymous()
	}

	if credential.AccessTokenExpired(cred.Access, s.now()) {
		s.logger.Info("stored access token expired")
		s.clearCredential(ctx)
		return s.becomeAnonymous()
	}

	identity, err := s.gw.CurrentIdentity(ctx)
	if err != nil {
		s.logger.Warn("failed to resolve identity",
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		s.clearCredential(ctx)
		return s.becomeAnonymous()
	}

	s.becomeAuthenticated(identity)
	return StateAuthenticated
}

// Login はトークンを発行して保存し、Identityを解決してAuthenticatedへ遷移する。
// トークン発行に失敗した場合はCredentialを保存せず、状態も変えない。
// トークン保存後にIdentityの解決に失敗した場合は、保存したCredentialを削除してAnonymousへ遷移する。
func (s *Store) Login(ctx context.Context, username, password string) (*model.Identity, error) {
	cred, err := s.gw.IssueToken(ctx, username, password)
	if err != nil {
		return nil, err
	}

	if err := s.creds.Save(ctx, *cred); err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}

	identity, err := s.gw.CurrentIdentity(ctx)
	if err != nil {
		s.clearCredential(ctx)
		s.becomeAnonymous()
		return nil, err
	}

	s.becomeAuthenticated(identity)
	s.logger.Info("user logged in", slog.String("username", identity.Username))
	return copyIdentity(identity), nil
}

// Register はアカウントを作成し、同じユーザー名とパスワードでログインする。
func (s *Store) Register(ctx context.Context, req model.RegisterRequest) (*model.Identity, error) {
	if _, err := s.gw.Register(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", slog.String("username", req.Username))
	return s.Login(ctx, req.Username, req.Password)
}

// Logout はCredentialを削除してAnonymousへ遷移する。失敗しない。
func (s *Store) Logout(ctx context.Context) {
	s.clearCredential(ctx)
	s.becomeAnonymous()
	s.logger.Info("user logged out")
}

// State は現在の状態を返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity は現在のIdentityのコピーを返す。Authenticated以外ではnil。
func (s *Store) Identity() *model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyIdentity(s.identity)
}

// Snapshot は状態とIdentityを同時に取得する。
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{State: s.state, Identity: copyIdentity(s.identity)}
}

func (s *Store) becomeAuthenticated(identity *model.Identity) {
	s.mu.Lock()
	s.state = StateAuthenticated
	s.identity = copyIdentity(identity)
	s.mu.Unlock()
	s.metrics.RecordSessionTransition(string(StateAuthenticated))
}

func (s *Store) becomeAnonymous() State {
	s.mu.Lock()
	changed := s.state != StateAnonymous
	s.state = StateAnonymous
	s.identity = nil
	s.mu.Unlock()
	if changed {
		s.metrics.RecordSessionTransition(string(StateAnonymous))
	}
	return StateAnonymous
}

// clearCredential はCredentialを削除する。失敗はログに残すだけで呼び出し元には返さない。
func (s *Store) clearCredential(ctx context.Context) {
	if err := s.creds.Clear(ctx); err != nil {
		s.logger.Error("failed to clear credential",
			slog.String("error", err.Error()),
		)
	}
}

func copyIdentity(identity *model.Identity) *model.Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}
