package auth

import (
	"sync"

	"github.com/hitoshi/articledesk/internal/model"
)

// ChangeFunc はセッションの状態が変わった時に呼ばれる。
// サインアウトされた場合はnilが渡される。
type ChangeFunc func(principal *model.Principal)

type subscriber struct {
	sessionID string
	userID    string
	fn        ChangeFunc
}

// notifier はプロセス内のセッション変更通知を配信する。
type notifier struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]subscriber
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[uint64]subscriber)}
}

// subscribe は購読を登録し、解除関数を返す。解除関数は何度呼んでもよい。
func (n *notifier) subscribe(sessionID, userID string, fn ChangeFunc) func() {
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = subscriber{sessionID: sessionID, userID: userID, fn: fn}
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// publishSession はセッション単位で通知する。
func (n *notifier) publishSession(sessionID string, p *model.Principal) {
	n.publish(func(s subscriber) bool { return s.sessionID == sessionID }, p)
}

// publishUser はユーザーの全セッションに通知する。
func (n *notifier) publishUser(userID string, p *model.Principal) {
	n.publish(func(s subscriber) bool { return s.userID == userID }, p)
}

// publish はロックを保持せずにコールバックを呼ぶ。コールバック内で購読を解除してよい。
func (n *notifier) publish(match func(subscriber) bool, p *model.Principal) {
	n.mu.Lock()
	var targets []ChangeFunc
	for _, s := range n.subs {
		if match(s) {
			targets = append(targets, s.fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range targets {
		fn(p)
	}
}

// count は購読数を返す。
func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
