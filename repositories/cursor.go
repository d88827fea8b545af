//go:generate go run go.uber.org/mock/mockgen -source=cursor.go -destination=../mocks/mock_cursor_repository.go -package=mocks
package repositories

import (
	goerrors "errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type ICursorRepository interface {
	Advance(chatID uuid.UUID, userID string, sequence uint64) (uint64, bool, error)
	Get(chatID uuid.UUID, userID string) (uint64, error)
}

// CursorRepository stores each participant's last-read sequence.
// Cursors only ever move forward; a stale request regresses nothing,
// whatever order the requests arrive in.
type CursorRepository struct {
	db *badger.DB
}

func NewCursorRepository(db *badger.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

func cursorKey(chatID uuid.UUID, userID string) []byte {
	return []byte(fmt.Sprintf("cursor:%s:%s", chatID, userID))
}

// Advance moves the cursor to sequence if it is ahead of the stored
// value. It returns the effective cursor and whether it moved.
func (r *CursorRepository) Advance(chatID uuid.UUID, userID string, sequence uint64) (uint64, bool, error) {
	current := uint64(0)
	advanced := false

	err := r.db.Update(func(txn *badger.Txn) error {
		var err error
		current, err = readCursor(txn, chatID, userID)
		if err != nil {
			return err
		}
		if sequence <= current {
			return nil
		}
		current = sequence
		advanced = true
		return txn.Set(cursorKey(chatID, userID), []byte(strconv.FormatUint(sequence, 10)))
	})
	if err != nil {
		return 0, false, mapStorageError(err)
	}
	return current, advanced, nil
}

func (r *CursorRepository) Get(chatID uuid.UUID, userID string) (uint64, error) {
	var current uint64
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		current, err = readCursor(txn, chatID, userID)
		return err
	})
	if err != nil {
		return 0, mapStorageError(err)
	}
	return current, nil
}

func readCursor(txn *badger.Txn, chatID uuid.UUID, userID string) (uint64, error) {
	item, err := txn.Get(cursorKey(chatID, userID))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var current uint64
	err = item.Value(func(val []byte) error {
		current, err = strconv.ParseUint(string(val), 10, 64)
		return err
	})
	return current, err
}
