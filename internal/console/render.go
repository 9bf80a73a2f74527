package console

import (
	"fmt"
	"io"
	"sync"

	"walkroom/native/internal/domain"
	"walkroom/native/internal/locsync"
)

// DefaultCenter is the initial view center, used until the first fix.
var DefaultCenter = domain.LatLng{Lat: 37.5665, Lng: 126.978}

// Renderer prints marker and proximity updates, one per line.
type Renderer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ domain.MarkerRenderer = (*Renderer)(nil)

func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

func (r *Renderer) SetMarker(id string, lat, lng float64) {
	r.printf("marker %s %.6f,%.6f\n", id, lat, lng)
}

// Status prints the distance to the peer. It has the locsync observer
// signature.
func (r *Renderer) Status(u locsync.Update) {
	if !u.HasLocal {
		r.printf("peer %s at %.6f,%.6f\n", u.Remote.Sender, u.Remote.Position.Lat, u.Remote.Position.Lng)
		return
	}
	status := "far"
	if u.Nearby {
		status = "nearby"
	}
	r.printf("peer %s %.1fm %s\n", u.Remote.Sender, u.Distance, status)
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

// CenterStore keeps the view center in memory.
type CenterStore struct {
	mu     sync.Mutex
	center domain.LatLng
}

var _ domain.CenterStore = (*CenterStore)(nil)

// NewCenterStore starts at DefaultCenter.
func NewCenterStore() *CenterStore {
	return &CenterStore{center: DefaultCenter}
}

func (c *CenterStore) Center() domain.LatLng {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.center
}

func (c *CenterStore) SetCenter(p domain.LatLng) {
	c.mu.Lock()
	c.center = p
	c.mu.Unlock()
}
