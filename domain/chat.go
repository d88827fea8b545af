// Package domain contains core concepts of the negotiation chat.
// A Chat binds exactly one buyer and one seller to one product listing.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Chat is the single conversation scoped to one product and one
// buyer/seller pair. The two block flags are one-way send gates:
// once set they are never cleared.
type Chat struct {
	ID                uuid.UUID
	ProductID         string
	BuyerID           string
	SellerID          string
	BuyerBlocksSeller bool
	SellerBlocksBuyer bool
	CreatedAt         time.Time
}

func NewChat(productID, buyerID, sellerID string) Chat {
	return Chat{
		ID:        uuid.New(),
		ProductID: productID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		CreatedAt: time.Now().UTC(),
	}
}

// IsParty reports whether userID is the buyer or the seller of this chat.
func (c Chat) IsParty(userID string) bool {
	return userID == c.BuyerID || userID == c.SellerID
}

// PeerOf returns the counterpart of userID, or "" if userID is not a party.
func (c Chat) PeerOf(userID string) string {
	switch userID {
	case c.BuyerID:
		return c.SellerID
	case c.SellerID:
		return c.BuyerID
	}
	return ""
}

// SendBlocked reports whether senderID's outbound direction has been
// blocked by the counterpart.
func (c Chat) SendBlocked(senderID string) bool {
	switch senderID {
	case c.SellerID:
		return c.BuyerBlocksSeller
	case c.BuyerID:
		return c.SellerBlocksBuyer
	}
	return false
}

// HasBlocked reports whether actorID already blocked their counterpart.
func (c Chat) HasBlocked(actorID string) bool {
	switch actorID {
	case c.BuyerID:
		return c.BuyerBlocksSeller
	case c.SellerID:
		return c.SellerBlocksBuyer
	}
	return false
}

// Block sets the actor's block on the counterpart's direction.
// It returns false when the direction was already blocked, so callers
// can keep the transition idempotent (no duplicate broadcast).
func (c *Chat) Block(actorID string) bool {
	switch actorID {
	case c.BuyerID:
		if c.BuyerBlocksSeller {
			return false
		}
		c.BuyerBlocksSeller = true
		return true
	case c.SellerID:
		if c.SellerBlocksBuyer {
			return false
		}
		c.SellerBlocksBuyer = true
		return true
	}
	return false
}
