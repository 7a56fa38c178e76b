package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/marketstate"
)

// bboMessage 场所 BBO 推送格式
type bboMessage struct {
	Bid string `json:"bid"`
	Ask string `json:"ask"`
	Ts  int64  `json:"ts"` // 毫秒时间戳，可选
}

// WSFeed 单场所 WebSocket 行情源。
// 断线自动重连（指数退避封顶 30s），收到的 BBO 直接写入行情缓存。
type WSFeed struct {
	role  domain.VenueRole
	url   string
	cache *marketstate.QuoteCache
	ping  time.Duration
	log   *logrus.Entry
}

// NewWS 创建 WebSocket 行情源
func NewWS(role domain.VenueRole, url string, cache *marketstate.QuoteCache, ping time.Duration) *WSFeed {
	if ping <= 0 {
		ping = 15 * time.Second
	}
	return &WSFeed{
		role:  role,
		url:   url,
		cache: cache,
		ping:  ping,
		log:   logrus.WithField("module", "feed:"+string(role)),
	}
}

// Run 运行行情源直到 ctx 取消
func (f *WSFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		f.log.Warnf("连接断开: %v，%s 后重连", err, backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (f *WSFeed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return errors.Wrapf(err, "连接 %s 失败", f.url)
	}
	defer conn.Close()
	f.log.Infof("行情连接建立: %s", f.url)

	// pong 刷新读超时；超过 3 个 ping 周期没有任何数据视为死链
	deadline := 3 * f.ping
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "读取行情失败")
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		f.handleMessage(data)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (f *WSFeed) handleMessage(data []byte) {
	var msg bboMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.log.Debugf("忽略无法解析的消息: %v", err)
		return
	}

	bid, ask, at, err := parseBBO(msg)
	if err != nil {
		f.log.Debugf("忽略异常报价: %v", err)
		return
	}
	f.cache.Update(f.role, bid, ask, at)
}

func parseBBO(msg bboMessage) (bid, ask decimal.Decimal, at time.Time, err error) {
	if msg.Bid != "" {
		if bid, err = decimal.NewFromString(msg.Bid); err != nil {
			return bid, ask, at, errors.Wrapf(err, "bid %q", msg.Bid)
		}
	}
	if msg.Ask != "" {
		if ask, err = decimal.NewFromString(msg.Ask); err != nil {
			return bid, ask, at, errors.Wrapf(err, "ask %q", msg.Ask)
		}
	}
	if bid.IsNegative() || ask.IsNegative() {
		return bid, ask, at, errors.New("negative price")
	}
	if bid.IsPositive() && ask.IsPositive() && bid.GreaterThan(ask) {
		// 倒挂盘口照常入缓存，由检测层自己决定如何利用
		logrus.WithField("module", "feed").Debugf("crossed book: bid=%s ask=%s", bid, ask)
	}

	at = time.Now()
	if msg.Ts > 0 {
		at = time.UnixMilli(msg.Ts)
	}
	return bid, ask, at, nil
}
