package sigchan

// Notifier 单槽事件通知：Notify 永不阻塞，
// 消费方被唤醒前的多次通知合并为一次。
// 适合"有新数据了，去看最新状态"这类边沿触发场景（如行情更新），
// 不适合需要逐条消费的事件流。
type Notifier struct {
	ch chan struct{}
}

// NewNotifier 创建通知器
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify 发出通知。槽位已占用时直接丢弃（合并语义）。
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Wait 返回接收端 channel，供消费方 select
func (n *Notifier) Wait() <-chan struct{} {
	return n.ch
}
