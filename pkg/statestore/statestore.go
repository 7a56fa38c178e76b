package statestore

import (
	"encoding/json"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/position"
)

var log = logrus.WithField("module", "statestore")

var keyPositionState = []byte("position_state")

// Store 持仓状态的本地持久化（badger）。
// 崩溃重启后恢复入场时间与入场价差，保证平仓档位不从零计算。
type Store struct {
	db *badger.DB
}

// Open 打开（必要时创建）状态库
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "创建状态目录 %s 失败", dir)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "打开状态库 %s 失败", dir)
	}
	return &Store{db: db}, nil
}

// SaveState 持久化持仓状态（实现 engine.StatePersister）
func (s *Store) SaveState(st position.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "序列化持仓状态失败")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyPositionState, data)
	})
}

// LoadState 读取持仓状态。库中无记录时第二个返回值为 false。
func (s *Store) LoadState() (position.State, bool, error) {
	var st position.State
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyPositionState)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil {
		return position.State{}, false, errors.Wrap(err, "读取持仓状态失败")
	}
	if found {
		log.Infof("恢复持仓状态: %s %s (入场于 %s)", st.Side, st.Quantity, st.OpenedAt)
	}
	return st, found, nil
}

// Close 关闭状态库
func (s *Store) Close() error {
	return s.db.Close()
}
