package booking

import (
	"context"
	"log"
	"time"
)

// RunReaper releases lapsed holds every interval until ctx is done
func (e *Engine) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("⏱️  Hold reaper running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Hold reaper stopped")
			return
		case <-ticker.C:
			n, err := e.ReapExpiredHolds(ctx)
			if err != nil {
				log.Printf("⚠️  Hold reaper: %v", err)
			}
			if n > 0 {
				log.Printf("✅ Released %d expired held tickets", n)
			}
		}
	}
}
