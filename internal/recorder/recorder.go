package recorder

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/arbbot/goarb/internal/domain"
)

var log = logrus.WithField("module", "recorder")

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	venue TEXT NOT NULL,
	side TEXT NOT NULL,
	price TEXT NOT NULL,
	size TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS bbo (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	maker_bid TEXT NOT NULL,
	maker_ask TEXT NOT NULL,
	taker_bid TEXT NOT NULL,
	taker_ask TEXT NOT NULL,
	long_spread TEXT NOT NULL,
	short_spread TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
CREATE INDEX IF NOT EXISTS idx_bbo_ts ON bbo(ts);
`

// Recorder 成交与行情落库（sqlite）。
// 落库失败只告警不阻断交易路径。
type Recorder struct {
	db *sql.DB

	mu        sync.Mutex
	lastBBO   time.Time
	bboMinGap time.Duration
}

// Open 打开（必要时创建）数据库
func Open(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "创建数据目录 %s 失败", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "打开数据库 %s 失败", path)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "初始化表结构失败")
	}
	// 单写入者即可，sqlite 连接数压到 1 避免锁竞争
	db.SetMaxOpenConns(1)
	return &Recorder{db: db, bboMinGap: time.Second}, nil
}

// RecordTrade 记录一笔成交
func (r *Recorder) RecordTrade(venue domain.VenueRole, side domain.Side, price, size decimal.Decimal, at time.Time) {
	_, err := r.db.Exec(
		"INSERT INTO trades (ts, venue, side, price, size) VALUES (?, ?, ?, ?, ?)",
		at.UnixMilli(), string(venue), string(side), price.String(), size.String(),
	)
	if err != nil {
		log.Warnf("成交落库失败: %v", err)
	}
}

// RecordBBO 记录一次双场所盘口采样（限流到每秒一条）
func (r *Recorder) RecordBBO(maker, taker domain.Quote, long, short decimal.Decimal, at time.Time) {
	r.mu.Lock()
	if at.Sub(r.lastBBO) < r.bboMinGap {
		r.mu.Unlock()
		return
	}
	r.lastBBO = at
	r.mu.Unlock()

	_, err := r.db.Exec(
		"INSERT INTO bbo (ts, maker_bid, maker_ask, taker_bid, taker_ask, long_spread, short_spread) VALUES (?, ?, ?, ?, ?, ?, ?)",
		at.UnixMilli(), maker.Bid.String(), maker.Ask.String(),
		taker.Bid.String(), taker.Ask.String(), long.String(), short.String(),
	)
	if err != nil {
		log.Warnf("行情落库失败: %v", err)
	}
}

// TradeCount 已记录的成交条数（测试与运维用）
func (r *Recorder) TradeCount() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM trades").Scan(&n)
	return n, err
}

// Close 关闭数据库
func (r *Recorder) Close() error {
	return r.db.Close()
}
