// Package gate はセッションの利用者が許可リストに含まれるかを判定する。
//
// Gateは1つのセッションに対して生成され、Startで購読を開始し、Stopで解放する。
// 状態は unresolved → resolving → authorized | unauthorized | anonymous と遷移し、
// セッションの変更通知を受ける度に判定をやり直す。
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/articledesk/internal/model"
)

// State はGateの状態。
type State string

const (
	StateUnresolved   State = "unresolved"
	StateResolving    State = "resolving"
	StateAuthorized   State = "authorized"
	StateUnauthorized State = "unauthorized"
	StateAnonymous    State = "anonymous"
)

// settled は判定が確定した状態かを返す。
func (s State) settled() bool {
	return s == StateAuthorized || s == StateUnauthorized || s == StateAnonymous
}

// ErrStopped は判定が確定する前にGateが停止されたことを表す。
var ErrStopped = errors.New("gate stopped before the session was resolved")

// maxHistory は保持する遷移履歴の上限。
const maxHistory = 32

// Session はGateが依存する1セッション分の認証バックエンド。
// auth.BoundSessionが実装する。
type Session interface {
	// Current は現在の利用者を返す。サインインしていない場合はnil。
	Current(ctx context.Context) (*model.Principal, error)
	// Subscribe は変更通知を購読し、解除関数を返す。サインアウト時はnilが渡される。
	Subscribe(fn func(*model.Principal)) func()
	// SignOut はセッションを破棄する。
	SignOut(ctx context.Context) error
}

// AllowList はアクセスを許可するメールアドレスの集合。大文字小文字は区別しない。
type AllowList struct {
	emails map[string]struct{}
}

// NewAllowList はメールアドレスの一覧からAllowListを生成する。空要素は無視する。
func NewAllowList(emails []string) AllowList {
	m := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			m[e] = struct{}{}
		}
	}
	return AllowList{emails: m}
}

// Allows はメールアドレスが許可されているかを返す。
func (a AllowList) Allows(email string) bool {
	_, ok := a.emails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Len は許可されたアドレスの数を返す。
func (a AllowList) Len() int {
	return len(a.emails)
}

// Recorder は判定結果を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordGateDecision(state string)
}

// Transition は状態遷移の記録。
type Transition struct {
	From  State
	To    State
	At    time.Time
	Email string
}

// Gate はセッションの認可状態を管理する。
type Gate struct {
	session  Session
	allow    AllowList
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	state       State
	principal   *model.Principal
	err         error
	changed     chan struct{}
	history     []Transition
	unsubscribe func()
	started     bool
	stopped     bool
	rejecting   bool
	rejected    bool
	// generation は判定を始める度に増える。古い判定の結果は反映しない。
	generation uint64
}

// Option はGateの設定関数。
type Option func(*Gate)

// WithRecorder は判定結果の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// WithClock は遷移履歴に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New はGateを生成する。状態はunresolvedから始まる。
func New(session Session, allow AllowList, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		session: session,
		allow:   allow,
		logger:  logger,
		now:     time.Now,
		ctx:     context.Background(),
		state:   StateUnresolved,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start は変更通知の購読を開始し、現在のセッションを判定する。
// 2回目以降の呼び出しは何もしない。
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started || g.stopped {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.ctx = context.WithoutCancel(ctx)
	g.transitionLocked(StateResolving, nil, "", nil)
	g.mu.Unlock()

	unsubscribe := g.session.Subscribe(g.onChange)

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		unsubscribe()
		return
	}
	g.unsubscribe = unsubscribe
	gen := g.generation
	g.mu.Unlock()

	p, err := g.session.Current(ctx)
	if err != nil {
		g.logger.Error("failed to resolve session", slog.String("error", err.Error()))
		g.mu.Lock()
		if g.generation == gen {
			g.transitionLocked(StateAnonymous, nil, "", fmt.Errorf("failed to resolve session: %w", err))
		}
		g.mu.Unlock()
		return
	}
	g.evaluate(p, gen)
}

// Stop は購読を解除する。何度呼んでもよい。
func (g *Gate) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.signalLocked()
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Await は判定が確定するまで待ち、許可された利用者を返す。
// 不許可の場合はEMAIL_NOT_ALLOWED、未ログインの場合はNOT_SIGNED_INのAPIErrorを返す。
func (g *Gate) Await(ctx context.Context) (*model.Principal, error) {
	for {
		g.mu.Lock()
		if g.state.settled() {
			p, err := g.principal, g.err
			g.mu.Unlock()
			return p, err
		}
		if g.stopped {
			g.mu.Unlock()
			return nil, ErrStopped
		}
		ch := g.changed
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// State は現在の状態を返す。
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Principal は許可された利用者を返す。authorized以外ではnil。
func (g *Gate) Principal() *model.Principal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.principal
}

// History は状態遷移の履歴を古い順に返す。
func (g *Gate) History() []Transition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Transition, len(g.history))
	copy(out, g.history)
	return out
}

// onChange はセッションの変更通知を受けて判定をやり直す。
func (g *Gate) onChange(p *model.Principal) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	// 自身の拒否によるサインアウトではunauthorizedを維持する
	if p == nil && (g.rejecting || g.rejected) {
		g.mu.Unlock()
		return
	}
	g.rejected = false
	g.generation++
	gen := g.generation
	g.mu.Unlock()

	g.evaluate(p, gen)
}

// evaluate は利用者を許可リストと照合し、状態を遷移させる。
// 拒否した場合はセッションを強制的に終了させる。
// genより新しい判定が始まっていれば結果は捨てる。
func (g *Gate) evaluate(p *model.Principal, gen uint64) {
	if p == nil {
		g.mu.Lock()
		if g.currentLocked(gen) {
			g.transitionLocked(StateAnonymous, nil, "", model.NewNotSignedInError())
		}
		g.mu.Unlock()
		return
	}

	if g.allow.Allows(p.Email) {
		g.mu.Lock()
		if g.currentLocked(gen) {
			g.transitionLocked(StateAuthorized, p, p.Email, nil)
		}
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	if !g.currentLocked(gen) {
		g.mu.Unlock()
		return
	}
	g.rejecting = true
	ctx := g.ctx
	g.mu.Unlock()

	g.logger.Warn("email not on allow list, signing out",
		slog.String("email", p.Email),
	)
	if err := g.session.SignOut(ctx); err != nil {
		g.logger.Error("failed to sign out rejected session",
			slog.String("email", p.Email),
			slog.String("error", err.Error()),
		)
	}

	g.mu.Lock()
	g.rejecting = false
	if g.currentLocked(gen) {
		g.rejected = true
		g.transitionLocked(StateUnauthorized, nil, p.Email, model.NewEmailNotAllowedError(p.Email))
	}
	g.mu.Unlock()
}

// currentLocked はgenが最新の判定かを返す。古い場合はログに残す。g.muを保持して呼ぶ。
func (g *Gate) currentLocked(gen uint64) bool {
	if g.generation == gen {
		return true
	}
	g.logger.Debug("session changed during evaluation, dropping stale result")
	return false
}

// transitionLocked は状態を更新し、待機中のAwaitを起こす。g.muを保持して呼ぶ。
func (g *Gate) transitionLocked(to State, p *model.Principal, email string, err error) {
	from := g.state
	g.state = to
	g.principal = p
	g.err = err

	g.history = append(g.history, Transition{From: from, To: to, At: g.now(), Email: email})
	if len(g.history) > maxHistory {
		g.history = g.history[len(g.history)-maxHistory:]
	}

	g.signalLocked()

	if to.settled() && g.recorder != nil {
		g.recorder.RecordGateDecision(string(to))
	}
	g.logger.Debug("gate state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (g *Gate) signalLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}
