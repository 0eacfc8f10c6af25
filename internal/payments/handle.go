package payments

import "sync"

// ConfirmerHandle builds a Confirmer on first use and hands out the same
// instance afterwards. A failed build is remembered and returned on every call.
type ConfirmerHandle struct {
	build func() (Confirmer, error)

	once      sync.Once
	confirmer Confirmer
	err       error
}

// NewConfirmerHandle wraps build in an init-once handle.
func NewConfirmerHandle(build func() (Confirmer, error)) *ConfirmerHandle {
	return &ConfirmerHandle{build: build}
}

// Confirmer returns the shared Confirmer, building it on the first call.
func (h *ConfirmerHandle) Confirmer() (Confirmer, error) {
	if h == nil {
		return nil, ErrNotConfigured
	}
	h.once.Do(func() {
		if h.build == nil {
			h.err = ErrNotConfigured
			return
		}
		h.confirmer, h.err = h.build()
		if h.err == nil && h.confirmer == nil {
			h.err = ErrNotConfigured
		}
	})
	return h.confirmer, h.err
}
