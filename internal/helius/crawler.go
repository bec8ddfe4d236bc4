package helius

import (
	"context"
	"log/slog"

	"solana-rewards-indexer/internal/domain"
)

// Default crawl sizes.
const (
	DefaultCallLimit = MaxPageLimit
	DefaultPageSize  = 1000
)

// CrawlerOptions configures a Crawler.
type CrawlerOptions struct {
	Source  TransactionSource
	Address string
	// Before resumes a backwards crawl from a saved cursor.
	Before string
	// Until stops the crawl once this watermark signature shows up in a page.
	// It is matched locally and never sent upstream, so the crawl can tell a
	// reached watermark from a false end of history.
	Until     string
	CallLimit int
	// PageSize caps the number of transactions in one batch.
	PageSize int
	Logger   *slog.Logger
}

// Batch is the result of one Next call.
type Batch struct {
	// Transactions are newest first.
	Transactions []*domain.RawTransaction
	// Cursor is the Before value that continues after this batch.
	Cursor string
	// Finished reports that the feed returned no more data. The feed may report
	// this falsely, so callers debounce it. A finished batch carries no
	// transactions and leaves the cursor in place.
	Finished bool
	// Reached reports that the Until watermark was found. Transactions stop
	// right before it and the crawl is complete.
	Reached bool
}

// Crawler pages backwards through an address's history, accumulating
// fixed-size calls into larger batches.
type Crawler struct {
	source    TransactionSource
	address   string
	until     string
	callLimit int
	pageSize  int
	logger    *slog.Logger

	cursor  string
	reached bool
}

// NewCrawler creates a crawler positioned at opts.Before.
func NewCrawler(opts CrawlerOptions) *Crawler {
	if opts.CallLimit <= 0 || opts.CallLimit > MaxPageLimit {
		opts.CallLimit = DefaultCallLimit
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Crawler{
		source:    opts.Source,
		address:   opts.Address,
		until:     opts.Until,
		callLimit: opts.CallLimit,
		pageSize:  opts.PageSize,
		logger:    opts.Logger,
		cursor:    opts.Before,
	}
}

// Cursor returns the Before value of the next batch.
func (c *Crawler) Cursor() string {
	return c.cursor
}

// Next fetches calls until PageSize transactions are accumulated, the watermark
// is reached or the feed runs dry. On error nothing is returned and the cursor
// stays where it was, so a retry re-requests exactly the same range.
func (c *Crawler) Next(ctx context.Context) (*Batch, error) {
	if c.reached {
		return &Batch{Cursor: c.cursor, Reached: true}, nil
	}

	pos := c.cursor
	var acc []*domain.RawTransaction

	for {
		limit := min(c.callLimit, c.pageSize-len(acc))
		page, err := c.source.GetTransactions(ctx, c.address, TransactionsQuery{
			Before: pos,
			Limit:  limit,
		})
		if err != nil {
			return nil, err
		}
		if len(page) > limit {
			page = page[:limit]
		}

		reached := false
		if c.until != "" {
			for i, tx := range page {
				if tx.Signature == c.until {
					page = page[:i]
					reached = true
					break
				}
			}
		}

		if reached {
			acc = append(acc, page...)
			if len(page) > 0 {
				pos = page[len(page)-1].Signature
			}
			c.reached = true
			c.cursor = pos
			return &Batch{Transactions: acc, Cursor: pos, Reached: true}, nil
		}

		if len(page) == 0 {
			c.cursor = pos
			c.logger.Debug("feed returned empty page",
				"address", c.address, "before", pos, "accumulated", len(acc))
			return &Batch{Transactions: acc, Cursor: pos, Finished: len(acc) == 0}, nil
		}

		acc = append(acc, page...)
		pos = page[len(page)-1].Signature

		if len(acc) >= c.pageSize {
			c.cursor = pos
			return &Batch{Transactions: acc, Cursor: pos}, nil
		}
	}
}
