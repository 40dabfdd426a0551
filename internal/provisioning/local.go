package provisioning

import (
	"context"
	"log/slog"
	"net"
	"sort"

	"github.com/pkg/errors"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
)

// LocalProvisioner manages peers on a WireGuard interface of this host
// through wgctrl. The peers document is the source of truth for the
// username↔public-key mapping; the daemon only knows keys.
type LocalProvisioner struct {
	device   string
	endpoint string
	dns      []string
	client   *wgctrl.Client
	peers    *store.Collection[peerRecord]
	bindings *store.Collection[int64]
	log      *slog.Logger
}

func NewLocal(st *store.Store, bindings *store.Collection[int64], device, endpoint string, dns []string, log *slog.Logger) (*LocalProvisioner, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create wgctrl client")
	}

	if _, err := client.Device(device); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "wireguard interface %q not available", device)
	}

	return &LocalProvisioner{
		device:   device,
		endpoint: endpoint,
		dns:      dns,
		client:   client,
		peers:    store.NewCollection[peerRecord](st, "peers"),
		bindings: bindings,
		log:      log,
	}, nil
}

func (p *LocalProvisioner) Close() error { return p.client.Close() }

func (p *LocalProvisioner) Provision(ctx context.Context, username string) (Credential, error) {
	pri, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate private key")
	}
	pub := pri.PublicKey()

	base, err := p.deviceAddress()
	if err != nil {
		return "", domain.External("failed to read interface address", err)
	}

	// Reserve the username and an address atomically in the document;
	// the daemon update happens after the reservation is durable.
	var allowedIP string
	err = p.peers.Update(func(m map[string]peerRecord) error {
		if _, ok := m[username]; ok {
			return domain.Conflict("Пользователь %s уже существует.", username)
		}
		used := make(map[string]bool, len(m))
		for _, rec := range m {
			used[rec.AllowedIP] = true
		}
		ip, err := nextFreeIP(base, used)
		if err != nil {
			return errors.Wrap(err, "failed to allocate address")
		}
		allowedIP = ip
		m[username] = peerRecord{PublicKey: pub.String(), AllowedIP: ip}
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := p.configurePeer(pub, allowedIP, false); err != nil {
		// Roll the reservation back so a retry starts clean.
		_ = p.peers.Update(func(m map[string]peerRecord) error {
			delete(m, username)
			return nil
		})
		return "", domain.External("failed to register peer", err)
	}

	dev, err := p.client.Device(p.device)
	if err != nil {
		return "", domain.External("failed to read device", err)
	}

	return renderCredential(clientConfig{
		Address:         allowedIP + "/32",
		PrivateKey:      pri.String(),
		DNS:             p.dns,
		ServerPublicKey: dev.PublicKey.String(),
		Endpoint:        p.endpoint,
	})
}

func (p *LocalProvisioner) Deprovision(ctx context.Context, username string) error {
	var pubKey string
	err := p.peers.Update(func(m map[string]peerRecord) error {
		rec, ok := m[username]
		if !ok {
			return nil // already gone, not an error
		}
		pubKey = rec.PublicKey
		delete(m, username)
		return nil
	})
	if err != nil {
		return err
	}
	if pubKey == "" {
		return nil
	}

	pub, err := wgtypes.ParseKey(pubKey)
	if err != nil {
		return errors.Wrap(err, "failed to parse stored public key")
	}
	if err := p.configurePeer(pub, "", true); err != nil {
		return domain.External("failed to remove peer", err)
	}
	return nil
}

func (p *LocalProvisioner) BindOwner(ctx context.Context, username string, telegramID *int64) error {
	return p.bindings.Update(func(m map[string]int64) error {
		if telegramID == nil {
			delete(m, username)
			return nil
		}
		m[username] = *telegramID
		return nil
	})
}

// ActivePeers joins the daemon's runtime stats with the stored
// username mapping and persists the fresh metadata for reports.
func (p *LocalProvisioner) ActivePeers(ctx context.Context) ([]Peer, error) {
	dev, err := p.client.Device(p.device)
	if err != nil {
		return nil, domain.External("failed to read device", err)
	}

	stats := make(map[string]wgtypes.Peer, len(dev.Peers))
	for _, peer := range dev.Peers {
		stats[peer.PublicKey.String()] = peer
	}

	var out []Peer
	err = p.peers.Update(func(m map[string]peerRecord) error {
		out = out[:0]
		for username, rec := range m {
			entry := Peer{
				Username:      username,
				PublicKey:     rec.PublicKey,
				AllowedIP:     rec.AllowedIP,
				ReceiveBytes:  rec.ReceiveBytes,
				TransmitBytes: rec.TransmitBytes,
			}
			if rec.LastHandshake != nil {
				entry.LastHandshake = *rec.LastHandshake
			}
			if s, ok := stats[rec.PublicKey]; ok {
				entry.LastHandshake = s.LastHandshakeTime
				entry.ReceiveBytes = s.ReceiveBytes
				entry.TransmitBytes = s.TransmitBytes

				hs := s.LastHandshakeTime
				rec.LastHandshake = &hs
				rec.ReceiveBytes = s.ReceiveBytes
				rec.TransmitBytes = s.TransmitBytes
				m[username] = rec
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (p *LocalProvisioner) configurePeer(pub wgtypes.Key, allowedIP string, remove bool) error {
	peer := wgtypes.PeerConfig{PublicKey: pub, Remove: remove}
	if !remove {
		_, ipNet, err := net.ParseCIDR(allowedIP + "/32")
		if err != nil {
			return errors.Wrap(err, "failed to parse allowed ip")
		}
		peer.AllowedIPs = []net.IPNet{*ipNet}
	}
	return p.client.ConfigureDevice(p.device, wgtypes.Config{Peers: []wgtypes.PeerConfig{peer}})
}

func (p *LocalProvisioner) deviceAddress() (net.IP, error) {
	ife, err := net.InterfaceByName(p.device)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get interface "+p.device)
	}
	addrs, err := ife.Addrs()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get address for "+p.device)
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, errors.New("no IPv4 address on interface " + p.device)
}
