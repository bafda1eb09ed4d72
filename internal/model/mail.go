package model

import (
	"context"
	"time"
)

// UnknownSender is the identity recorded for messages without a usable
// From or Return-Path header.
const UnknownSender = "(unknown)"

// ListingEntry is one row of the remote listing.
type ListingEntry struct {
	ID       string
	ThreadID string
}

// Page is a single page of the remote listing. An empty NextCursor means the
// listing is exhausted.
type Page struct {
	Entries    []ListingEntry
	NextCursor string
	Estimate   int64 // provider's result size estimate, 0 if unknown
}

// MessageMetadata holds the header fields needed to attribute a message.
type MessageMetadata struct {
	ID      string
	Sender  string // normalized sender identity, never empty
	RawFrom string
	Subject string
	Date    time.Time
}

// MailClient is the narrow remote mailbox surface used by the sync core.
type MailClient interface {
	ListPage(ctx context.Context, cursor string) (Page, error)
	GetMetadata(ctx context.Context, id string) (MessageMetadata, error)
}

// SenderCount is one row of the aggregate snapshot.
type SenderCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}
