package sources

import (
	"context"
	"fmt"

	"github.com/JakeFAU/discord-event-crawler/internal/history"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// Coverage is what the store knows about one channel's crawl.
type Coverage struct {
	ChannelID uint64
	Cursor    uint64
	History   *history.History
	// Hole is where a backfill would resume; meaningful only when HasHole.
	Hole    uint64
	HasHole bool
}

// LoadCoverage reads the cursor and history of a channel in one transaction.
// It returns store.ErrNotFound when the channel was never tracked.
func LoadCoverage(ctx context.Context, st store.Store, channelID uint64) (Coverage, error) {
	cov := Coverage{ChannelID: channelID}
	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cursor, err := tx.LookupCursor(ctx, store.ChannelCrawl, channelID)
		if err != nil {
			return fmt.Errorf("lookup cursor of channel %d: %w", channelID, err)
		}
		h, err := tx.LookupHistory(ctx, channelID)
		if err != nil {
			return fmt.Errorf("lookup history of channel %d: %w", channelID, err)
		}
		cov.Cursor = cursor
		cov.History = h
		return nil
	})
	if err != nil {
		return Coverage{}, err
	}
	cov.Hole, cov.HasHole = cov.History.FindFirstHole(cov.Cursor)
	return cov, nil
}
