// Package console provides terminal stand-ins for the map collaborators:
// positions are read as "lat,lng" lines and markers are printed.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"walkroom/native/internal/domain"
)

// DefaultFixTimeout bounds CurrentPosition.
const DefaultFixTimeout = 5 * time.Second

// ErrNoPosition is returned when no fix arrives in time.
var ErrNoPosition = errors.New("no position available")

// LineSource is a GeoSource fed by "lat,lng" lines. Malformed lines are
// skipped.
type LineSource struct {
	fixTimeout time.Duration
	log        *slog.Logger

	positions chan domain.LatLng
	done      chan struct{}
	err       error
}

var _ domain.GeoSource = (*LineSource)(nil)

// NewLineSource starts reading r. A zero fixTimeout selects
// DefaultFixTimeout.
func NewLineSource(r io.Reader, fixTimeout time.Duration, logger *slog.Logger) *LineSource {
	if fixTimeout <= 0 {
		fixTimeout = DefaultFixTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &LineSource{
		fixTimeout: fixTimeout,
		log:        logger.With("component", "console"),
		positions:  make(chan domain.LatLng),
		done:       make(chan struct{}),
	}
	go s.read(r)
	return s
}

func (s *LineSource) read(r io.Reader) {
	defer close(s.done)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParseLatLng(line)
		if err != nil {
			s.log.Warn("skipping position line", "line", line, "err", err)
			continue
		}
		s.positions <- p
	}
	s.err = sc.Err()
}

// CurrentPosition waits for the next line.
func (s *LineSource) CurrentPosition(ctx context.Context) (domain.LatLng, error) {
	timer := time.NewTimer(s.fixTimeout)
	defer timer.Stop()

	select {
	case p := <-s.positions:
		return p, nil
	case <-s.done:
		if s.err != nil {
			return domain.LatLng{}, fmt.Errorf("read positions: %w", s.err)
		}
		return domain.LatLng{}, ErrNoPosition
	case <-timer.C:
		return domain.LatLng{}, ErrNoPosition
	case <-ctx.Done():
		return domain.LatLng{}, ctx.Err()
	}
}

// Watch calls fn for every line until the input ends or ctx is done.
func (s *LineSource) Watch(ctx context.Context, fn func(domain.LatLng)) error {
	for {
		select {
		case p := <-s.positions:
			fn(p)
		case <-s.done:
			if s.err != nil {
				return fmt.Errorf("read positions: %w", s.err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseLatLng parses "lat,lng". Whitespace around either number is allowed.
func ParseLatLng(s string) (domain.LatLng, error) {
	latRaw, lngRaw, ok := strings.Cut(s, ",")
	if !ok {
		return domain.LatLng{}, fmt.Errorf("parse %q: expected lat,lng", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	if err != nil {
		return domain.LatLng{}, fmt.Errorf("parse latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngRaw), 64)
	if err != nil {
		return domain.LatLng{}, fmt.Errorf("parse longitude: %w", err)
	}
	p := domain.LatLng{Lat: lat, Lng: lng}
	if !p.Valid() {
		return domain.LatLng{}, fmt.Errorf("parse %q: out of range", s)
	}
	return p, nil
}
