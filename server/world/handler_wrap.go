package world

// HandlerWrapper wraps the Handler assigned to a World. It receives handlers
// after nil was replaced with NopHandler.
type HandlerWrapper func(w *World, h Handler) Handler

func (w *World) wrapHandler(h Handler) Handler {
	if w.conf.HandlerWrap != nil {
		return w.conf.HandlerWrap(w, h)
	}
	return h
}
