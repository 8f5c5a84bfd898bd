package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/swappo/pin-server-go/internal/repository"
)

// CleanupJob removes PIN records whose owning trade has been cancelled or
// rejected. Live and completed trades keep their records; a PIN only goes
// away when the trade around it does.
type CleanupJob struct {
	pinRepo  repository.PinRecordRepository
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(pinRepo repository.PinRecordRepository, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		pinRepo:  pinRepo,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.pinRepo.DeleteClosed(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to cleanup pin records")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("cleaned up pin records of closed trades")
	}
}
