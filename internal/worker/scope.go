package worker

import (
	"sync"
	"time"
)

// ClientScope 判断某个客户端连接是否受当前 worker 控制。
// 激活前不控制任何连接；激活后，新连接立即受控，旧连接只有在 Claim 之后才受控。
type ClientScope struct {
	mu          sync.RWMutex
	active      bool
	claimed     bool
	activatedAt time.Time
}

// NewClientScope 返回尚未激活的作用域。
func NewClientScope() *ClientScope {
	return &ClientScope{}
}

func (s *ClientScope) activate(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.activatedAt = at
}

// Claim 接管激活前已经建立的连接。
func (s *ClientScope) Claim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed = true
}

// Activated 表示 worker 是否已经激活。
func (s *ClientScope) Activated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Claimed 表示是否已接管旧连接。
func (s *ClientScope) Claimed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimed
}

// Controls 根据连接建立时间判断是否受控。
func (s *ClientScope) Controls(connOpened time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return false
	}
	if s.claimed {
		return true
	}
	return !connOpened.Before(s.activatedAt)
}
