package feed

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/marketstate"
)

// RESTPoller REST 行情兜底。
// WS 行情超过 staleAfter 未更新时轮询 REST 接口补充 BBO，
// WS 正常时完全静默，不给场所添流量。
type RESTPoller struct {
	role       domain.VenueRole
	url        string
	cache      *marketstate.QuoteCache
	interval   time.Duration
	staleAfter time.Duration
	client     *resty.Client
	log        *logrus.Entry
}

// NewRESTPoller 创建 REST 兜底轮询器
func NewRESTPoller(role domain.VenueRole, url string, cache *marketstate.QuoteCache,
	interval, staleAfter time.Duration) *RESTPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &RESTPoller{
		role:       role,
		url:        url,
		cache:      cache,
		interval:   interval,
		staleAfter: staleAfter,
		client:     client,
		log:        logrus.WithField("module", "feed-rest:"+string(role)),
	}
}

// Run 运行轮询直到 ctx 取消
func (p *RESTPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollIfStale(ctx)
		}
	}
}

func (p *RESTPoller) pollIfStale(ctx context.Context) {
	if q, ok := p.cache.Quote(p.role); ok && time.Since(q.ObservedAt) < p.staleAfter {
		return
	}

	var msg bboMessage
	resp, err := p.client.R().SetContext(ctx).SetResult(&msg).Get(p.url)
	if err != nil {
		p.log.Warnf("REST 行情请求失败: %v", err)
		return
	}
	if !resp.IsSuccess() {
		p.log.Warnf("REST 行情非 2xx: %s", resp.Status())
		return
	}

	bid, ask, at, err := parseBBO(msg)
	if err != nil {
		p.log.Warnf("REST 行情解析失败: %v", err)
		return
	}
	p.cache.Update(p.role, bid, ask, at)
	p.log.Debugf("REST 兜底更新: bid=%s ask=%s", bid, ask)
}
