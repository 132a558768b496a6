package session

// ImageInfo describes an image held by the session without its bytes.
type ImageInfo struct {
	Name      string `json:"name,omitempty"`
	MediaType string `json:"mime_type"`
	Size      int    `json:"size"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Handle    string `json:"handle,omitempty"`
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	ID        string     `json:"id"`
	State     State      `json:"state"`
	Source    *ImageInfo `json:"source,omitempty"`
	Processed *ImageInfo `json:"processed,omitempty"`
	Composite *ImageInfo `json:"composite,omitempty"`
	Color     string     `json:"color"`
	Error     string     `json:"error,omitempty"`
	Progress  Progress   `json:"progress"`
	Attempt   string     `json:"attempt,omitempty"`
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:       s.id,
		State:    s.state,
		Color:    s.color.Hex(),
		Error:    s.errMsg,
		Progress: s.progress,
		Attempt:  s.attempt,
	}
	if s.source != nil {
		snap.Source = &ImageInfo{
			Name:      s.source.Name,
			MediaType: s.source.MediaType,
			Size:      len(s.source.Data),
			Handle:    s.source.Handle,
		}
	}
	if s.processed != nil {
		snap.Processed = &ImageInfo{
			MediaType: s.processed.MediaType,
			Size:      len(s.processed.Data),
			Handle:    s.processedHandle,
		}
	}
	if s.composite != nil {
		snap.Composite = &ImageInfo{
			MediaType: s.composite.MediaType,
			Size:      len(s.composite.Data),
			Width:     s.composite.Width,
			Height:    s.composite.Height,
			Handle:    s.compositeHandle,
		}
	}
	return snap
}

// publish hands the current snapshot to every subscriber, replacing any
// snapshot the subscriber has not read yet.
func (s *Session) publish() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshot()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
