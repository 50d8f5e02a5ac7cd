package status

// Subscribe registers a channel-backed listener for consumers that live in
// their own goroutine (SSE streams, WebSocket writers). Sends never block the
// transition: when the buffer is full the oldest pending snapshot is dropped
// so the newest always gets through. cancel removes the listener; the
// channel is not closed.
func (m *Manager) Subscribe(buffer int) (<-chan Info, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Info, buffer)
	remove := m.AddListener(func(info Info) error {
		for {
			select {
			case ch <- info:
				return nil
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch, remove
}
