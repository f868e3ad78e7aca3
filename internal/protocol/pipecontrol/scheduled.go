package pipecontrol

import "github.com/rs/zerolog/log"

// PostFunc enqueues task on a per-pipe FIFO. It fails once the queue is closed.
type PostFunc func(task func()) error

type scheduledDelegate struct {
	target Delegate
	post   PostFunc
}

// Scheduled wraps target so each dispatch becomes one task posted through
// post. Receiver.Accept then returns once the task is enqueued. A failed post
// drops the notification; the pipe is going away.
func Scheduled(target Delegate, post PostFunc) Delegate {
	return &scheduledDelegate{target: target, post: post}
}

func (s *scheduledDelegate) OnPeerAssociatedEndpointClosed(id InterfaceID, reason *DisconnectReason) {
	reason = copyReason(reason)
	err := s.post(func() {
		s.target.OnPeerAssociatedEndpointClosed(id, reason)
	})
	if err != nil {
		log.Debug().Err(err).Uint32("endpoint", uint32(id)).Msg("pipecontrol.Scheduled dropped notification")
	}
}
