package tasks

import (
	"log"

	"github.com/robfig/cron/v3"

	"signet/internal/replay"
)

// NonceSweeper periodically drops replay-guard records whose timestamp
// window has passed. Without it the guard grows with every admitted
// envelope.
type NonceSweeper struct {
	guard *replay.Guard
	cron  *cron.Cron
}

func NewNonceSweeper(guard *replay.Guard) *NonceSweeper {
	return &NonceSweeper{guard: guard}
}

func (s *NonceSweeper) Start() {
	s.cron = cron.New()

	_, err := s.cron.AddFunc("@every 1m", func() {
		removed := s.guard.Sweep()
		if removed > 0 {
			log.Printf("[WORKER] Nonce sweep removed %d expired records (%d live)", removed, s.guard.Size())
		}
	})
	if err != nil {
		log.Printf("[WORKER] Error scheduling nonce sweep: %v", err)
		return
	}

	s.cron.Start()
	log.Println("[WORKER] Nonce sweeper scheduled (every 1m)")
}

func (s *NonceSweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
