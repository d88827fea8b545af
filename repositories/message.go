//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_log.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"deal-chat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IMessageLog interface {
	Append(cmd domain.SendMessageCommand) (domain.Message, error)
	Read(chatID uuid.UUID, sinceSequence uint64, limit int) ([]domain.Message, error)
	LastSequence(chatID uuid.UUID) (uint64, error)
	CountAfter(chatID uuid.UUID, sequence uint64, excludeSender string) (int, error)
}

// MessageLog is the append-only, per-chat ordered message store and the
// only place where a total order is established. The sequence counter is
// read and advanced inside the same transaction that writes the message,
// so sequences stay contiguous with no gaps even across restarts.
type MessageLog struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageLog(db *badger.DB, log *slog.Logger) *MessageLog {
	return &MessageLog{db: db, log: log}
}

type diskMessage struct {
	ID            string `json:"id"`
	ChatID        string `json:"chat_id"`
	SenderID      string `json:"sender_id"`
	Body          string `json:"body,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	Sequence      uint64 `json:"sequence"`
	CreatedAt     int64  `json:"created_at"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// messageKey formats "msg:{chat_id}:{sequence_padded}". The 20-digit
// zero padding keeps badger's lexicographical iteration identical to
// sequence order for the whole uint64 range.
func messageKey(chatID uuid.UUID, sequence uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d", chatID, sequence))
}

func messagePrefix(chatID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", chatID))
}

func counterKey(chatID uuid.UUID) []byte {
	return []byte("seq:" + chatID.String())
}

// Append assigns the next sequence and persists the message atomically.
// Concurrent appends to the same chat conflict at the counter key and
// are resolved by the caller's bounded retry; appends to different
// chats never contend.
func (l *MessageLog) Append(cmd domain.SendMessageCommand) (domain.Message, error) {
	message := domain.Message{
		ID:            uuid.New(),
		ChatID:        cmd.ChatID,
		SenderID:      cmd.SenderID,
		Body:          cmd.Body,
		ImageURL:      cmd.ImageURL,
		CorrelationID: cmd.CorrelationID,
		CreatedAt:     time.Now().UTC(),
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		last, err := readCounter(txn, cmd.ChatID)
		if err != nil {
			return err
		}
		message.Sequence = last + 1

		data, err := json.Marshal(fromMessage(message))
		if err != nil {
			return err
		}
		if err = txn.Set(messageKey(cmd.ChatID, message.Sequence), data); err != nil {
			return err
		}
		return txn.Set(counterKey(cmd.ChatID), []byte(strconv.FormatUint(message.Sequence, 10)))
	})
	if err != nil {
		return domain.Message{}, mapStorageError(err)
	}
	return message, nil
}

// Read returns messages strictly ordered by sequence, starting at
// sinceSequence+1 inclusive. A non-positive limit means no limit.
func (l *MessageLog) Read(chatID uuid.UUID, sinceSequence uint64, limit int) ([]domain.Message, error) {
	var disks []diskMessage
	err := l.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(chatID)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(messageKey(chatID, sinceSequence+1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(disks) == limit {
				break
			}
			var disk diskMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &disk)
			}); err != nil {
				return err
			}
			disks = append(disks, disk)
		}
		return nil
	})
	if err != nil {
		return nil, mapStorageError(err)
	}

	messages := make([]domain.Message, 0, len(disks))
	for _, disk := range disks {
		message, err := toMessage(disk)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// LastSequence returns the highest assigned sequence, 0 for an empty chat.
func (l *MessageLog) LastSequence(chatID uuid.UUID) (uint64, error) {
	var last uint64
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		last, err = readCounter(txn, chatID)
		return err
	})
	if err != nil {
		return 0, mapStorageError(err)
	}
	return last, nil
}

// CountAfter counts messages beyond the given sequence whose sender is
// not excludeSender. This is exactly the unread count for that user.
func (l *MessageLog) CountAfter(chatID uuid.UUID, sequence uint64, excludeSender string) (int, error) {
	messages, err := l.Read(chatID, sequence, 0)
	if err != nil {
		return 0, err
	}
	return lo.CountBy(messages, func(m domain.Message) bool {
		return m.SenderID != excludeSender
	}), nil
}

func readCounter(txn *badger.Txn, chatID uuid.UUID) (uint64, error) {
	item, err := txn.Get(counterKey(chatID))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	err = item.Value(func(val []byte) error {
		last, err = strconv.ParseUint(string(val), 10, 64)
		return err
	})
	return last, err
}

func fromMessage(message domain.Message) diskMessage {
	return diskMessage{
		ID:            message.ID.String(),
		ChatID:        message.ChatID.String(),
		SenderID:      message.SenderID,
		Body:          message.Body,
		ImageURL:      message.ImageURL,
		Sequence:      message.Sequence,
		CreatedAt:     message.CreatedAt.UnixNano(),
		CorrelationID: message.CorrelationID,
	}
}

func toMessage(disk diskMessage) (domain.Message, error) {
	id, err := uuid.Parse(disk.ID)
	if err != nil {
		return domain.Message{}, err
	}
	chatID, err := uuid.Parse(disk.ChatID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:            id,
		ChatID:        chatID,
		SenderID:      disk.SenderID,
		Body:          disk.Body,
		ImageURL:      disk.ImageURL,
		Sequence:      disk.Sequence,
		CreatedAt:     time.Unix(0, disk.CreatedAt).UTC(),
		CorrelationID: disk.CorrelationID,
	}, nil
}
