package web

import (
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/GoBell/internal/debug"
	"github.com/cjeanneret/GoBell/internal/logic/imagecodec"
)

// placeholderFile is served by /preview while the doorbell is idle.
const placeholderFile = "avatar.svg"

// Preview is the local preview surface. The pipeline renders into it and
// GET /preview serves the current frame.
type Preview struct {
	mu      sync.RWMutex
	image   []byte
	version uint64
	updated time.Time

	b           *StatusBroadcaster
	placeholder []byte
}

// NewPreview creates an idle preview. b may be nil.
func NewPreview(b *StatusBroadcaster, static fs.FS) *Preview {
	p := &Preview{b: b}
	if static != nil {
		if data, err := fs.ReadFile(static, placeholderFile); err == nil {
			p.placeholder = data
		}
	}
	return p
}

// Render shows an encoded snapshot.
func (p *Preview) Render(encoded string) {
	img, err := imagecodec.Decode(encoded)
	if err != nil {
		debug.Errorf("preview", err)
		img = nil
	}

	p.mu.Lock()
	p.image = img
	p.version++
	p.updated = time.Now()
	v := p.version
	p.mu.Unlock()

	if p.b != nil {
		p.b.Publish(KindPreview, "info", strconv.FormatUint(v, 10))
	}
}

// RenderIdlePlaceholder resets the surface to the placeholder.
func (p *Preview) RenderIdlePlaceholder() {
	p.mu.Lock()
	p.image = nil
	p.version++
	p.updated = time.Now()
	v := p.version
	p.mu.Unlock()

	if p.b != nil {
		p.b.Publish(KindPreview, "info", strconv.FormatUint(v, 10))
	}
}

// Showing reports whether a snapshot (not the placeholder) is displayed.
func (p *Preview) Showing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.image != nil
}

// ServeHTTP serves the current snapshot, or the placeholder while idle.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	img, v, updated := p.image, p.version, p.updated
	p.mu.RUnlock()

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", fmt.Sprintf(`"%d"`, v))
	if !updated.IsZero() {
		w.Header().Set("Last-Modified", updated.UTC().Format(http.TimeFormat))
	}

	if img == nil {
		if p.placeholder == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write(p.placeholder)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Write(img)
}
