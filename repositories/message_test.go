package repositories

import (
	"fmt"
	"log/slog"
	"testing"

	"deal-chat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Append_Assigns_Contiguous_Sequences(t *testing.T) {
	req := require.New(t)
	log := NewMessageLog(openTestDB(t), slog.Default())
	chatID := uuid.New()

	// When appending several messages
	for i := 1; i <= 5; i++ {
		message, err := log.Append(domain.SendMessageCommand{
			ChatID:   chatID,
			SenderID: "buyer-1",
			Body:     fmt.Sprintf("offer %d", i),
		})
		req.NoError(err)
		// Then each gets the next sequence, assigned by the log
		req.Equal(uint64(i), message.Sequence)
	}

	last, err := log.LastSequence(chatID)
	req.NoError(err)
	req.Equal(uint64(5), last)
}

func Test_Read_Since_Sequence(t *testing.T) {
	req := require.New(t)
	log := NewMessageLog(openTestDB(t), slog.Default())
	chatID := uuid.New()

	for i := 1; i <= 7; i++ {
		_, err := log.Append(domain.SendMessageCommand{
			ChatID:   chatID,
			SenderID: "seller-1",
			Body:     fmt.Sprintf("message %d", i),
		})
		req.NoError(err)
	}

	// When reading with last seen = 3
	messages, err := log.Read(chatID, 3, 0)
	req.NoError(err)

	// Then exactly sequences 4..7 come back, in order
	req.Len(messages, 4)
	for i, message := range messages {
		req.Equal(uint64(4+i), message.Sequence)
	}
}

func Test_Read_Empty_Chat(t *testing.T) {
	req := require.New(t)
	log := NewMessageLog(openTestDB(t), slog.Default())

	messages, err := log.Read(uuid.New(), 0, 0)
	req.NoError(err)
	req.Empty(messages)

	last, err := log.LastSequence(uuid.New())
	req.NoError(err)
	req.Zero(last)
}

func Test_Read_With_Limit(t *testing.T) {
	req := require.New(t)
	log := NewMessageLog(openTestDB(t), slog.Default())
	chatID := uuid.New()

	for i := 1; i <= 10; i++ {
		_, err := log.Append(domain.SendMessageCommand{
			ChatID:   chatID,
			SenderID: "buyer-1",
			Body:     "hello",
		})
		req.NoError(err)
	}

	messages, err := log.Read(chatID, 0, 4)
	req.NoError(err)
	req.Len(messages, 4)
	req.Equal(uint64(1), messages[0].Sequence)
	req.Equal(uint64(4), messages[3].Sequence)
}

func Test_Sequences_Isolated_Per_Chat(t *testing.T) {
	req := require.New(t)
	log := NewMessageLog(openTestDB(t), slog.Default())
	chatA := uuid.New()
	chatB := uuid.New()

	messageA, err := log.Append(domain.SendMessageCommand{ChatID: chatA, SenderID: "buyer-1", Body: "a"})
	req.NoError(err)
	messageB, err := log.Append(domain.SendMessageCommand{ChatID: chatB, SenderID: "buyer-2", Body: "b"})
	req.NoError(err)

	// Each chat owns its own sequence space
	req.Equal(uint64(1), messageA.Sequence)
	req.Equal(uint64(1), messageB.Sequence)
}

func Test_CountAfter_Excludes_Own_Messages(t *testing.T) {
	req := require.New(t)
	log := NewMessageLog(openTestDB(t), slog.Default())
	chatID := uuid.New()

	senders := []string{"buyer-1", "seller-1", "seller-1", "buyer-1", "seller-1"}
	for _, sender := range senders {
		_, err := log.Append(domain.SendMessageCommand{ChatID: chatID, SenderID: sender, Body: "hi"})
		req.NoError(err)
	}

	// buyer-1 read nothing: 3 seller messages are unread
	count, err := log.CountAfter(chatID, 0, "buyer-1")
	req.NoError(err)
	req.Equal(3, count)

	// buyer-1 read up to sequence 3: one seller message left
	count, err = log.CountAfter(chatID, 3, "buyer-1")
	req.NoError(err)
	req.Equal(1, count)
}

func Test_Message_Roundtrip_Preserves_Fields(t *testing.T) {
	req := require.New(t)
	log := NewMessageLog(openTestDB(t), slog.Default())
	chatID := uuid.New()

	appended, err := log.Append(domain.SendMessageCommand{
		ChatID:        chatID,
		SenderID:      "buyer-1",
		Body:          "does it come with the charger?",
		ImageURL:      "https://cdn.example.com/photo.jpg",
		CorrelationID: "corr-7",
	})
	req.NoError(err)

	messages, err := log.Read(chatID, 0, 0)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal(appended.ID, messages[0].ID)
	req.Equal(appended.Body, messages[0].Body)
	req.Equal(appended.ImageURL, messages[0].ImageURL)
	req.Equal(appended.CreatedAt, messages[0].CreatedAt)
	// The reconciliation id survives the read path, so backfill can
	// still echo it to a sender that missed the live frame.
	req.Equal("corr-7", messages[0].CorrelationID)
}
