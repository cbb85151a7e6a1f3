package cv

import "sync"

// idLocks 按 CV id 串行化再生成操作，避免并发追加历史互相交错。
// 条目带引用计数，最后一个持有者释放时从表中移除，表大小只随
// 当前在途的再生成数增长。
type idLocks struct {
	mu    sync.Mutex
	locks map[uint]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[uint]*idLock)}
}

// acquire 锁住指定 id 并返回解锁函数。解锁函数只能调用一次。
func (l *idLocks) acquire(id uint) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &idLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
