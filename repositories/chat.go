//go:generate go run go.uber.org/mock/mockgen -source=chat.go -destination=../mocks/mock_chat_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"time"

	"deal-chat/domain"
	"deal-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IChatRepository interface {
	FindOrCreate(productID, buyerID, sellerID string) (domain.Chat, bool, error)
	Get(chatID uuid.UUID) (domain.Chat, error)
	Block(chatID uuid.UUID, actorID string) (domain.Chat, bool, error)
}

type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChatRepository(db *badger.DB, log *slog.Logger) *ChatRepository {
	return &ChatRepository{db: db, log: log}
}

// diskChat is the persisted shape of a chat record.
type diskChat struct {
	ID                string `json:"id"`
	ProductID         string `json:"product_id"`
	BuyerID           string `json:"buyer_id"`
	SellerID          string `json:"seller_id"`
	BuyerBlocksSeller bool   `json:"buyer_blocks_seller"`
	SellerBlocksBuyer bool   `json:"seller_blocks_buyer"`
	CreatedAt         int64  `json:"created_at"`
}

func chatKey(id uuid.UUID) []byte {
	return []byte("chat:" + id.String())
}

// tripleKey indexes the (product, buyer, seller) uniqueness invariant:
// exactly one chat may ever exist per triple.
func tripleKey(productID, buyerID, sellerID string) []byte {
	return []byte(fmt.Sprintf("chatidx:%s:%s:%s", productID, buyerID, sellerID))
}

// FindOrCreate returns the chat for the given triple, lazily creating it
// on first use. The boolean reports whether a new chat was created.
func (r *ChatRepository) FindOrCreate(productID, buyerID, sellerID string) (domain.Chat, bool, error) {
	var chat domain.Chat
	created := false

	err := r.db.Update(func(txn *badger.Txn) error {
		idx := tripleKey(productID, buyerID, sellerID)
		item, err := txn.Get(idx)
		if err == nil {
			var id []byte
			if id, err = item.ValueCopy(nil); err != nil {
				return err
			}
			chatID, err := uuid.Parse(string(id))
			if err != nil {
				return err
			}
			chat, err = getChat(txn, chatID)
			return err
		}
		if !goerrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		chat = domain.NewChat(productID, buyerID, sellerID)
		created = true
		data, err := json.Marshal(fromChat(chat))
		if err != nil {
			return err
		}
		if err = txn.Set(chatKey(chat.ID), data); err != nil {
			return err
		}
		return txn.Set(idx, []byte(chat.ID.String()))
	})
	if err != nil {
		return domain.Chat{}, false, mapStorageError(err)
	}
	if created {
		r.log.Info("Chat created",
			"chat_id", chat.ID, "product_id", productID,
			"buyer_id", buyerID, "seller_id", sellerID)
	}
	return chat, created, nil
}

func (r *ChatRepository) Get(chatID uuid.UUID) (domain.Chat, error) {
	var chat domain.Chat
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		chat, err = getChat(txn, chatID)
		return err
	})
	if err != nil {
		return domain.Chat{}, mapStorageError(err)
	}
	return chat, nil
}

// Block persists the actor's one-way block. The transition is terminal:
// no public operation ever clears the flag again. The boolean reports
// whether the state actually changed, so reapplying a block stays
// idempotent and emits no duplicate event.
func (r *ChatRepository) Block(chatID uuid.UUID, actorID string) (domain.Chat, bool, error) {
	var chat domain.Chat
	changed := false

	err := r.db.Update(func(txn *badger.Txn) error {
		var err error
		chat, err = getChat(txn, chatID)
		if err != nil {
			return err
		}
		if !chat.IsParty(actorID) {
			return errors.ErrForbidden
		}
		if changed = chat.Block(actorID); !changed {
			return nil
		}
		data, err := json.Marshal(fromChat(chat))
		if err != nil {
			return err
		}
		return txn.Set(chatKey(chatID), data)
	})
	if err != nil {
		return domain.Chat{}, false, mapStorageError(err)
	}
	return chat, changed, nil
}

func getChat(txn *badger.Txn, chatID uuid.UUID) (domain.Chat, error) {
	item, err := txn.Get(chatKey(chatID))
	if err != nil {
		return domain.Chat{}, err
	}
	var disk diskChat
	if err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &disk)
	}); err != nil {
		return domain.Chat{}, err
	}
	return toChat(disk)
}

func fromChat(chat domain.Chat) diskChat {
	return diskChat{
		ID:                chat.ID.String(),
		ProductID:         chat.ProductID,
		BuyerID:           chat.BuyerID,
		SellerID:          chat.SellerID,
		BuyerBlocksSeller: chat.BuyerBlocksSeller,
		SellerBlocksBuyer: chat.SellerBlocksBuyer,
		CreatedAt:         chat.CreatedAt.UnixNano(),
	}
}

func toChat(disk diskChat) (domain.Chat, error) {
	id, err := uuid.Parse(disk.ID)
	if err != nil {
		return domain.Chat{}, err
	}
	return domain.Chat{
		ID:                id,
		ProductID:         disk.ProductID,
		BuyerID:           disk.BuyerID,
		SellerID:          disk.SellerID,
		BuyerBlocksSeller: disk.BuyerBlocksSeller,
		SellerBlocksBuyer: disk.SellerBlocksBuyer,
		CreatedAt:         time.Unix(0, disk.CreatedAt).UTC(),
	}, nil
}

// mapStorageError keeps the error taxonomy stable across the storage
// layer: missing keys surface as NotFound, conflicts and everything
// else badger-internal surface as Transient (safe to retry).
func mapStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case goerrors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%w: %v", errors.ErrNotFound, err)
	case goerrors.Is(err, errors.ErrForbidden),
		goerrors.Is(err, errors.ErrNotFound),
		goerrors.Is(err, errors.ErrInvalidPayload):
		return err
	default:
		return fmt.Errorf("%w: %v", errors.ErrTransient, err)
	}
}
