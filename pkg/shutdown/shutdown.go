package shutdown

import (
	"context"
	"sync"

	"github.com/arbbot/goarb/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context)

// Manager 优雅关闭管理器。
// 回调按注册顺序依次执行（撤单/平仓必须先于资源释放）。
type Manager struct {
	callbacks []named
	mu        sync.Mutex
	once      sync.Once
}

type named struct {
	name string
	fn   Handler
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{
		callbacks: make([]named, 0),
	}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, named{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）
// ctx 应该是一个带超时的 context，避免无限等待
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.mu.Lock()
		callbacks := m.callbacks
		m.mu.Unlock()

		if len(callbacks) == 0 {
			logger.Info("没有注册的关闭回调")
			return
		}

		logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

		for _, cb := range callbacks {
			select {
			case <-ctx.Done():
				logger.Warnf("关闭超时，剩余回调被跳过: %v", ctx.Err())
				return
			default:
			}

			done := make(chan struct{})
			go func(h Handler) {
				defer close(done)
				h(ctx)
			}(cb.fn)

			select {
			case <-done:
				logger.Infof("关闭回调 [%s] 已完成", cb.name)
			case <-ctx.Done():
				logger.Warnf("关闭回调 [%s] 超时: %v", cb.name, ctx.Err())
				return
			}
		}

		logger.Info("所有关闭回调已完成")
	})
}
