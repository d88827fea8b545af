package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

// Local mirrors of the stored JSON, so the inspector stays decoupled
// from the repositories and can open any snapshot of the database.
type chatRow struct {
	ID                string `json:"id"`
	ProductID         string `json:"product_id"`
	BuyerID           string `json:"buyer_id"`
	SellerID          string `json:"seller_id"`
	BuyerBlocksSeller bool   `json:"buyer_blocks_seller"`
	SellerBlocksBuyer bool   `json:"seller_blocks_buyer"`
	CreatedAt         int64  `json:"created_at"`
}

type messageRow struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	ImageURL  string `json:"image_url"`
	Sequence  uint64 `json:"sequence"`
	CreatedAt int64  `json:"created_at"`
}

func main() {
	_ = godotenv.Load()
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB")
	chatID := flag.String("chat", "", "Restrict messages to one chat id")
	flag.Parse()

	// BypassLockGuard allows opening while the server holds the lock
	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	color.New(color.BgBlack, color.FgGreen).Println("  ====== Chats ======")
	if err := dumpChats(db); err != nil {
		log.Fatal("Error while dumping chats: ", err)
	}

	color.New(color.BgBlack, color.FgGreen).Println("  ====== Messages ======")
	if err := dumpMessages(db, *chatID); err != nil {
		log.Fatal("Error while dumping messages: ", err)
	}
}

func newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func dumpChats(db *badger.DB) error {
	table := newTable([]string{"Chat ID", "Product", "Buyer", "Seller", "Blocks", "Created"})

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("chat:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var row chatRow
				if err := json.Unmarshal(v, &row); err != nil {
					fmt.Printf("Error unmarshaling key %s: %v\n", string(it.Item().Key()), err)
					return nil
				}
				table.Append([]string{
					shortID(row.ID),
					row.ProductID,
					row.BuyerID,
					row.SellerID,
					blockFlags(row),
					time.Unix(0, row.CreatedAt).UTC().Format("2006-01-02 15:04:05"),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}

func dumpMessages(db *badger.DB, chatID string) error {
	table := newTable([]string{"Chat ID", "Seq", "Sender", "Timestamp", "Body", "Image"})

	prefix := []byte("msg:")
	if chatID != "" {
		prefix = []byte("msg:" + chatID + ":")
	}

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var row messageRow
				if err := json.Unmarshal(v, &row); err != nil {
					fmt.Printf("Error unmarshaling key %s: %v\n", string(it.Item().Key()), err)
					return nil
				}
				table.Append([]string{
					shortID(row.ChatID),
					fmt.Sprintf("%d", row.Sequence),
					row.SenderID,
					time.Unix(0, row.CreatedAt).UTC().Format("15:04:05"),
					row.Body,
					row.ImageURL,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}

// shortID keeps the first 8 characters for readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func blockFlags(row chatRow) string {
	var flags []string
	if row.BuyerBlocksSeller {
		flags = append(flags, "buyer>seller")
	}
	if row.SellerBlocksBuyer {
		flags = append(flags, "seller>buyer")
	}
	return strings.Join(flags, " ")
}
