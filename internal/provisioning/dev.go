package provisioning

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
)

// DevProvisioner is the fake used in dev mode and in tests. Peers live
// in memory; owner bindings go to the shared bindings document so the
// rest of the system behaves exactly as with a real daemon. It honors
// the same contract: duplicate provisioning conflicts, deprovisioning
// is idempotent.
type DevProvisioner struct {
	mu       sync.Mutex
	peers    map[string]peerRecord
	bindings *store.Collection[int64]
	log      *slog.Logger
}

func NewDev(bindings *store.Collection[int64], log *slog.Logger) *DevProvisioner {
	return &DevProvisioner{
		peers:    map[string]peerRecord{},
		bindings: bindings,
		log:      log,
	}
}

func (d *DevProvisioner) Close() error { return nil }

func (d *DevProvisioner) Provision(ctx context.Context, username string) (Credential, error) {
	pri, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[username]; ok {
		return "", domain.Conflict("Пользователь %s уже существует.", username)
	}

	ip := "10.0.0." + strconv.Itoa(2+len(d.peers))
	d.peers[username] = peerRecord{PublicKey: pri.PublicKey().String(), AllowedIP: ip}

	return renderCredential(clientConfig{
		Address:         ip + "/32",
		PrivateKey:      pri.String(),
		DNS:             []string{"1.1.1.1"},
		ServerPublicKey: pri.PublicKey().String(),
		Endpoint:        "dev.invalid:51820",
	})
}

func (d *DevProvisioner) Deprovision(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, username)
	return nil
}

func (d *DevProvisioner) BindOwner(ctx context.Context, username string, telegramID *int64) error {
	return d.bindings.Update(func(m map[string]int64) error {
		if telegramID == nil {
			delete(m, username)
			return nil
		}
		m[username] = *telegramID
		return nil
	})
}

func (d *DevProvisioner) ActivePeers(ctx context.Context) ([]Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Peer, 0, len(d.peers))
	for username, rec := range d.peers {
		out = append(out, Peer{
			Username:  username,
			PublicKey: rec.PublicKey,
			AllowedIP: rec.AllowedIP,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
