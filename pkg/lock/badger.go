package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

var (
	errHeld      = errors.New("lock held")
	errNotHolder = errors.New("not the lock holder")
)

// BadgerStore keeps locks in an embedded Badger database so they survive a
// dispatcher restart. Every operation runs in a serializable transaction; a
// write conflict means another caller got there first.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the lock database in dir
func OpenBadgerStore(dir string, logger zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = badgerLogger{logger: logger.With().Str("component", "badger").Logger()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger %s: %v", common.ErrLockService, dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Acquire(_ context.Context, key, identity string, ttl time.Duration) (bool, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return errHeld
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), []byte(identity)).WithTTL(ttl))
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errHeld), errors.Is(err, badger.ErrConflict):
		return false, nil
	}
	return false, fmt.Errorf("%w: acquire %s: %v", common.ErrLockService, key, err)
}

func (s *BadgerStore) Release(_ context.Context, key, identity string) (bool, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return errNotHolder
		}
		if err != nil {
			return err
		}

		holder, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(holder) != identity {
			return errNotHolder
		}
		return txn.Delete([]byte(key))
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotHolder), errors.Is(err, badger.ErrConflict):
		return false, nil
	}
	return false, fmt.Errorf("%w: release %s: %v", common.ErrLockService, key, err)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's own logging into zerolog
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
