package capture

// mailbox is the single slot between the sample callback and PollFrame.
// A second delivery in the same poll cycle replaces the first; the loss is
// counted, not queued.
type mailbox struct {
	frame       Frame
	info        FrameInfo
	full        bool
	overwritten int
}

func (m *mailbox) put(f Frame, info FrameInfo) {
	if m.full {
		m.overwritten++
	}
	m.frame = f
	m.info = info
	m.full = true
}

// take returns the pending frame, if any, plus the number of frames it
// replaced, and leaves the slot empty.
func (m *mailbox) take() (Frame, FrameInfo, bool, int) {
	f, info, ok, lost := m.frame, m.info, m.full, m.overwritten
	m.reset()
	return f, info, ok, lost
}

func (m *mailbox) reset() {
	m.frame = nil
	m.info = FrameInfo{}
	m.full = false
	m.overwritten = 0
}
