package chainimport

import (
	"fmt"

	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/model"
)

// DBHeaderStore implements HeaderStore directly over the column store,
// reading back whatever SaveHeader most recently wrote for a block.
type DBHeaderStore struct {
	db kv.Database
}

// NewDBHeaderStore builds a DBHeaderStore over db.
func NewDBHeaderStore(db kv.Database) *DBHeaderStore {
	return &DBHeaderStore{db: db}
}

// GetHeader implements HeaderStore.
func (s *DBHeaderStore) GetHeader(blockN uint64) (model.Header, error) {
	raw, err := s.db.Get(kv.Headers, headerKey(blockN))
	if err != nil {
		return model.Header{}, fmt.Errorf("chainimport: loading header %d: %w", blockN, err)
	}
	var signed model.BlockHeaderWithSignatures
	if err := kv.Decode(raw, &signed); err != nil {
		return model.Header{}, fmt.Errorf("chainimport: decoding header %d: %w", blockN, err)
	}
	return signed.Header, nil
}
