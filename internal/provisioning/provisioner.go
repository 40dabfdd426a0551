// Package provisioning owns the VPN identity boundary: creating and
// destroying peers on the WireGuard-compatible daemon and issuing the
// shareable connection credential. Everything above this package treats
// the credential as an opaque blob and never touches wg tooling itself.
package provisioning

import (
	"context"
	"io"
	"time"
)

// Credential is the opaque shareable connection blob handed to the end
// user (a vpn:// URI wrapping the rendered client config).
type Credential string

// Peer is the daemon-level view of a provisioned account.
type Peer struct {
	Username      string
	PublicKey     string
	AllowedIP     string
	LastHandshake time.Time
	ReceiveBytes  int64
	TransmitBytes int64
}

// Provisioner is the external collaborator contract. Implementations:
// local wgctrl, remote wgctrl over SSH, and an in-memory dev fake.
type Provisioner interface {
	io.Closer

	// Provision registers a new peer and returns its credential.
	// Provisioning an already-existing username is a definitive
	// Conflict error, never a silent overwrite.
	Provision(ctx context.Context, username string) (Credential, error)

	// Deprovision removes the peer. Removing a nonexistent account is
	// not an error.
	Deprovision(ctx context.Context, username string) error

	// BindOwner attaches (or, with nil, detaches) the Telegram owner of
	// an account.
	BindOwner(ctx context.Context, username string, telegramID *int64) error

	// ActivePeers reports every registered peer with its last handshake
	// and transfer counters.
	ActivePeers(ctx context.Context) ([]Peer, error)
}

// peerRecord is the durable half of a peer, kept in the peers document
// so usernames survive daemon restarts and metadata sweeps have a place
// to land.
type peerRecord struct {
	PublicKey     string     `json:"public_key"`
	AllowedIP     string     `json:"allowed_ip"`
	LastHandshake *time.Time `json:"last_handshake,omitempty"`
	ReceiveBytes  int64      `json:"rx_bytes"`
	TransmitBytes int64      `json:"tx_bytes"`
}
