package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"deal-chat/domain"
	"deal-chat/domain/event"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func appended(chatID uuid.UUID, sequence uint64, body string) event.MessageAppended {
	return event.MessageAppended{Message: domain.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  "buyer-1",
		Body:      body,
		Sequence:  sequence,
		CreatedAt: time.Now().UTC(),
	}}
}

func Test_Index_And_Search(t *testing.T) {
	req := require.New(t)
	index, err := NewMessageIndex(t.TempDir(), slog.Default())
	req.NoError(err)
	defer index.Close()

	chatID := uuid.New()
	ctx := context.Background()

	req.NoError(index.Consume(ctx, appended(chatID, 1, "is the bike still available?")))
	req.NoError(index.Consume(ctx, appended(chatID, 2, "yes, pickup this weekend")))
	req.NoError(index.Consume(ctx, appended(chatID, 3, "can you ship the bike instead?")))

	hits, err := index.Search(ctx, chatID, "bike", 10)
	req.NoError(err)
	req.Len(hits, 2)
}

func Test_Search_Scoped_To_Chat(t *testing.T) {
	req := require.New(t)
	index, err := NewMessageIndex(t.TempDir(), slog.Default())
	req.NoError(err)
	defer index.Close()

	chatA := uuid.New()
	chatB := uuid.New()
	ctx := context.Background()

	req.NoError(index.Consume(ctx, appended(chatA, 1, "price is negotiable")))
	req.NoError(index.Consume(ctx, appended(chatB, 1, "price is firm")))

	hits, err := index.Search(ctx, chatA, "price", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal("price is negotiable", hits[0].Body)
}

func Test_Index_Skips_Image_Only_Messages(t *testing.T) {
	req := require.New(t)
	index, err := NewMessageIndex(t.TempDir(), slog.Default())
	req.NoError(err)
	defer index.Close()

	chatID := uuid.New()
	ctx := context.Background()

	evt := appended(chatID, 1, "")
	evt.Message.ImageURL = "https://cdn.example.com/photo.jpg"
	req.NoError(index.Consume(ctx, evt))

	hits, err := index.Search(ctx, chatID, "photo", 10)
	req.NoError(err)
	req.Empty(hits)
}
