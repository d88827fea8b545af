// Package search maintains a full-text index over appended messages.
// The index is fed from the fan-out path as a permanent sink and is a
// projection: losing it never loses messages, the log stays authoritative.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"deal-chat/domain/event"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

type Hit struct {
	MessageID string `json:"message_id"`
	Sequence  uint64 `json:"sequence"`
	Body      string `json:"body"`
}

type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(path string, log *slog.Logger) (*MessageIndex, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, fmt.Errorf("opening message index: %w", err)
	}
	return &MessageIndex{writer: writer, log: log}, nil
}

// Consume indexes appended messages; every other event kind is ignored.
// Indexing failures are logged and swallowed: the projection must never
// fail a broadcast.
func (i *MessageIndex) Consume(_ context.Context, e event.DomainEvent) error {
	appended, ok := e.(event.MessageAppended)
	if !ok {
		return nil
	}
	message := appended.Message
	if message.Body == "" {
		return nil
	}

	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewKeywordField("chat_id", message.ChatID.String())).
		AddField(bluge.NewTextField("body", message.Body).StoreValue()).
		AddField(bluge.NewKeywordField("sequence", paddedSequence(message.Sequence)).StoreValue().Sortable())

	if err := i.writer.Update(doc.ID(), doc); err != nil {
		i.log.Error("Failed to index message", "message_id", message.ID, "error", err)
	}
	return nil
}

// Search runs a full-text query over one chat's message bodies,
// newest first.
func (i *MessageIndex) Search(ctx context.Context, chatID uuid.UUID, terms string, limit int) ([]Hit, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(terms).SetField("body")).
		AddMust(bluge.NewTermQuery(chatID.String()).SetField("chat_id"))

	request := bluge.NewTopNSearch(limit, query).SortBy([]string{"-sequence"})

	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			return hits, nil
		}

		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case "body":
				hit.Body = string(value)
			case "sequence":
				hit.Sequence, _ = strconv.ParseUint(string(value), 10, 64)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
}

func (i *MessageIndex) Close() error {
	return i.writer.Close()
}

// paddedSequence keeps lexicographic term order aligned with numeric
// order for sorting.
func paddedSequence(sequence uint64) string {
	return fmt.Sprintf("%020d", sequence)
}
