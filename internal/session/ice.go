package session

import (
	"fmt"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

// ICEServersFromURLs builds the ICE server list handed to both legs on
// connect. Every URL must parse as a stun/turn URI.
func ICEServersFromURLs(urls []string) ([]webrtc.ICEServer, error) {
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, raw := range urls {
		if _, err := stun.ParseURI(raw); err != nil {
			return nil, fmt.Errorf("invalid ICE server url %q: %w", raw, err)
		}
		servers = append(servers, webrtc.ICEServer{URLs: []string{raw}})
	}
	return servers, nil
}

// WireICEServers converts pion ICE servers into the wire form sent to clients
func WireICEServers(servers []webrtc.ICEServer) []types.ICEServer {
	out := make([]types.ICEServer, 0, len(servers))
	for _, s := range servers {
		wire := types.ICEServer{
			URLs:     s.URLs,
			Username: s.Username,
		}
		if cred, ok := s.Credential.(string); ok {
			wire.Credential = cred
		}
		out = append(out, wire)
	}
	return out
}
