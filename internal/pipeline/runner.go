package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"postflow/internal/publish"
	"postflow/internal/storage"
	logx "postflow/pkg/logx"
)

// run processes the queue serially. Cancellation is cooperative: the
// flag is checked at the top of the loop and during the pause wait, so
// an in-flight item always finishes before the run stops.
func (s *Service) run(ctx context.Context, req RunRequest, slots []time.Time) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in pipeline runner", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.setState(StateCompleted)
		}
	}()

	total := len(req.Queue)
	for i := 0; i < total; i++ {
		if s.runCancelled(ctx) {
			s.appendLog(LogEntry{Status: StatusInfo, Message: "cancelled by user"})
			break
		}
		if !s.waitWhilePaused(ctx) {
			s.appendLog(LogEntry{Status: StatusInfo, Message: "cancelled by user"})
			break
		}

		item := req.Queue[i]
		s.setProgress(i+1, total)

		slot := slots[i]
		// Lead-time correction, applied again at dispatch time: the slot
		// may have drifted into the past during pauses or slow items.
		if slot.Before(s.now().Add(leadTime)) {
			slot = slot.AddDate(0, 0, 1)
			s.appendLog(LogEntry{
				ItemID:  item.ID,
				Status:  StatusInfo,
				Message: fmt.Sprintf("slot moved to %s to keep the %s lead time", slot.Format(time.RFC3339), leadTime),
			})
		}

		if req.CheckDuplicates && s.alreadySubmitted(ctx, item, req.Destination) {
			s.appendLog(LogEntry{ItemID: item.ID, Status: StatusInfo, Message: "already submitted to " + req.Destination.ID + ", skipped"})
			s.addCount(func(c *RunCounts) { c.Skipped++ })
			continue
		}

		postID, err := s.processItem(ctx, req, item, slot)
		if err != nil {
			s.appendLog(LogEntry{ItemID: item.ID, Status: StatusError, Message: err.Error()})
			s.addCount(func(c *RunCounts) { c.Failed++ })
			if publish.IsAuthExpired(err) {
				s.appendLog(LogEntry{ItemID: item.ID, Status: StatusError, Message: "authentication expired, aborting run"})
				s.log.Error("authentication expired", logx.String("item", item.ID), logx.Err(err))
				s.notifyAuthFailure()
				break
			}
			s.log.Warn("item failed", logx.String("item", item.ID), logx.Err(err))
			continue
		}

		s.appendLog(LogEntry{ItemID: item.ID, Status: StatusSuccess, Message: "scheduled as post " + postID})
		s.addCount(func(c *RunCounts) { c.Succeeded++ })

		if req.CheckDuplicates {
			key := storage.SubmissionKey(item.ID, req.Destination.ID)
			if err := s.store.AddSubmission(ctx, key); err != nil {
				s.log.Warn("submission ledger write failed", logx.String("item", item.ID), logx.Err(err))
			}
		}
	}

	s.appendLog(LogEntry{Status: StatusInfo, Message: "scheduling complete"})
	s.setState(StateCompleted)

	snap := s.Snapshot()
	s.log.Info("run finished",
		logx.String("run", snap.RunID),
		logx.Int("succeeded", snap.Counts.Succeeded),
		logx.Int("failed", snap.Counts.Failed),
		logx.Int("skipped", snap.Counts.Skipped),
		logx.Duration("took", s.now().Sub(start)))
}

func (s *Service) runCancelled(ctx context.Context) bool {
	return s.cancelFlag.Load() || ctx.Err() != nil
}

// waitWhilePaused blocks while the pause flag is set, polling at the
// configured granularity. It returns false if cancellation was requested
// during the wait, including when the pause flag was cleared in the same
// poll window as the cancel.
func (s *Service) waitWhilePaused(ctx context.Context) bool {
	entered := false
	for s.pauseFlag.Load() {
		if s.runCancelled(ctx) {
			return false
		}
		if !entered {
			entered = true
			s.setState(StatePaused)
		}
		time.Sleep(s.cfg.PausePoll)
	}
	if s.runCancelled(ctx) {
		return false
	}
	if entered {
		s.setState(StateRunning)
	}
	return true
}

func (s *Service) alreadySubmitted(ctx context.Context, item QueueItem, dest publish.Destination) bool {
	key := storage.SubmissionKey(item.ID, dest.ID)
	has, err := s.store.HasSubmission(ctx, key)
	if err != nil {
		// A broken ledger must not silently drop items; publish anyway.
		s.log.Warn("submission ledger read failed", logx.String("item", item.ID), logx.Err(err))
		return false
	}
	return has
}

// processItem drives one item through enhance → upload → publish.
func (s *Service) processItem(ctx context.Context, req RunRequest, item QueueItem, slot time.Time) (string, error) {
	enh, err := s.enhancer.Enhance(ctx, item)
	if err != nil {
		return "", err
	}

	caption := item.Caption
	if caption == "" {
		caption = enh.Caption
	}
	mediaRef := enh.MediaRef
	if mediaRef == "" {
		mediaRef = item.MediaRef
	}
	placeID := item.PlaceID
	if placeID == "" {
		placeID = req.Schedule.PlaceID
	}

	handle, err := s.publisher.UploadMedia(ctx, req.Destination, mediaRef)
	if err != nil {
		return "", err
	}
	return s.publisher.CreatePost(ctx, req.Destination, caption, handle, &slot, placeID)
}
