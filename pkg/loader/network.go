package loader

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceName is the mDNS service type a loader peer advertises itself
// under (spec.md §5.7).
const ServiceName = "_wasmkernel-loader._tcp"

const serviceDomain = "local."

const (
	defaultBrowseTimeout = 5 * time.Second
	defaultDialTimeout   = 3 * time.Second
)

// NetworkSource discovers a peer advertising ServiceName over mDNS and
// fetches module bytes from it over a small length-prefixed TCP protocol:
// the client writes the 32-byte hash, the server replies with a 4-byte
// little-endian length (zero meaning not found) followed by that many
// bytes of module data.
type NetworkSource struct {
	BrowseTimeout time.Duration
	DialTimeout   time.Duration

	resolver *zeroconf.Resolver
}

// NewNetworkSource builds a NetworkSource using the default zeroconf
// resolver.
func NewNetworkSource() (*NetworkSource, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &NetworkSource{resolver: r}, nil
}

func (s *NetworkSource) browseTimeout() time.Duration {
	if s.BrowseTimeout > 0 {
		return s.BrowseTimeout
	}
	return defaultBrowseTimeout
}

func (s *NetworkSource) dialTimeout() time.Duration {
	if s.DialTimeout > 0 {
		return s.DialTimeout
	}
	return defaultDialTimeout
}

// Fetch discovers a loader peer and requests hash from it.
func (s *NetworkSource) Fetch(hash Hash) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.browseTimeout())
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := s.resolver.Browse(ctx, ServiceName, serviceDomain, entries); err != nil {
		return nil, fmt.Errorf("loader: browse: %w", err)
	}

	var entry *zeroconf.ServiceEntry
	select {
	case e, ok := <-entries:
		if ok {
			entry = e
		}
	case <-ctx.Done():
	}
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return nil, ErrNotFound
	}

	addr := fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
	conn, err := net.DialTimeout("tcp", addr, s.dialTimeout())
	if err != nil {
		return nil, fmt.Errorf("loader: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(hash[:]); err != nil {
		return nil, fmt.Errorf("loader: send request: %w", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("loader: read length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, ErrNotFound
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, fmt.Errorf("loader: read body: %w", err)
	}
	return data, nil
}
