package provisioning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
)

// RemoteProvisioner manages peers on a WireGuard interface of another
// host over SSH: the bot host keeps the documents, the VPN host runs
// the daemon. Keys are generated locally; only public material and wg
// commands travel over the wire.
type RemoteProvisioner struct {
	device   string
	endpoint string
	dns      []string
	subnet   net.IP // server-side tunnel address, base of the /24

	addr   string
	sshCfg *ssh.ClientConfig

	mu        sync.Mutex
	client    *ssh.Client
	serverPub string // cached `wg show <dev> public-key`

	peers    *store.Collection[peerRecord]
	bindings *store.Collection[int64]
	log      *slog.Logger
}

type RemoteConfig struct {
	Addr    string // host:port
	User    string
	KeyPath string

	Device   string
	Endpoint string
	DNS      []string
	Subnet   string // tunnel base address, e.g. 10.8.0.1
}

func NewRemote(st *store.Store, bindings *store.Collection[int64], cfg RemoteConfig, log *slog.Logger) (*RemoteProvisioner, error) {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ssh key")
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ssh key")
	}

	subnet := net.ParseIP(cfg.Subnet)
	if subnet == nil {
		return nil, errors.Errorf("invalid tunnel subnet address %q", cfg.Subnet)
	}

	return &RemoteProvisioner{
		device:   cfg.Device,
		endpoint: cfg.Endpoint,
		dns:      cfg.DNS,
		subnet:   subnet,
		addr:     cfg.Addr,
		sshCfg: &ssh.ClientConfig{
			User: cfg.User,
			Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
			// Host key pinning is the operator's job via known_hosts
			// on the bot host; the daemon host is operator-controlled.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		},
		peers:    store.NewCollection[peerRecord](st, "peers"),
		bindings: bindings,
		log:      log,
	}, nil
}

func (p *RemoteProvisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		err := p.client.Close()
		p.client = nil
		return err
	}
	return nil
}

func (p *RemoteProvisioner) Provision(ctx context.Context, username string) (Credential, error) {
	pri, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate private key")
	}
	pub := pri.PublicKey()

	var allowedIP string
	err = p.peers.Update(func(m map[string]peerRecord) error {
		if _, ok := m[username]; ok {
			return domain.Conflict("Пользователь %s уже существует.", username)
		}
		used := make(map[string]bool, len(m))
		for _, rec := range m {
			used[rec.AllowedIP] = true
		}
		ip, err := nextFreeIP(p.subnet, used)
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

	cmd := fmt.Sprintf("wg set %s peer %s allowed-ips %s/32 && wg-quick save %s",
		p.device, pub.String(), allowedIP, p.device)
	if _, err := p.run(ctx, cmd); err != nil {
		_ = p.peers.Update(func(m map[string]peerRecord) error {
			delete(m, username)
			return nil
		})
		return "", domain.External("failed to register peer", err)
	}

	serverPub, err := p.serverPublicKey(ctx)
	if err != nil {
		return "", domain.External("failed to read server public key", err)
	}

	return renderCredential(clientConfig{
		Address:         allowedIP + "/32",
		PrivateKey:      pri.String(),
		DNS:             p.dns,
		ServerPublicKey: serverPub,
		Endpoint:        p.endpoint,
	})
}

func (p *RemoteProvisioner) Deprovision(ctx context.Context, username string) error {
	var pubKey string
	err := p.peers.Update(func(m map[string]peerRecord) error {
		rec, ok := m[username]
		if !ok {
			return nil
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

	cmd := fmt.Sprintf("wg set %s peer %s remove && wg-quick save %s", p.device, pubKey, p.device)
	if _, err := p.run(ctx, cmd); err != nil {
		return domain.External("failed to remove peer", err)
	}
	return nil
}

func (p *RemoteProvisioner) BindOwner(ctx context.Context, username string, telegramID *int64) error {
	return p.bindings.Update(func(m map[string]int64) error {
		if telegramID == nil {
			delete(m, username)
			return nil
		}
		m[username] = *telegramID
		return nil
	})
}

func (p *RemoteProvisioner) ActivePeers(ctx context.Context) ([]Peer, error) {
	out, err := p.run(ctx, "wg show "+p.device+" dump")
	if err != nil {
		return nil, domain.External("failed to query daemon", err)
	}
	stats := parseDump(out)

	var peers []Peer
	err = p.peers.Update(func(m map[string]peerRecord) error {
		peers = peers[:0]
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
				entry.LastHandshake = s.LastHandshake
				entry.ReceiveBytes = s.ReceiveBytes
				entry.TransmitBytes = s.TransmitBytes

				hs := s.LastHandshake
				rec.LastHandshake = &hs
				rec.ReceiveBytes = s.ReceiveBytes
				rec.TransmitBytes = s.TransmitBytes
				m[username] = rec
			}
			peers = append(peers, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].Username < peers[j].Username })
	return peers, nil
}

// parseDump reads `wg show <dev> dump` peer lines:
// pubkey psk endpoint allowed-ips latest-handshake rx tx keepalive
func parseDump(out string) map[string]Peer {
	stats := map[string]Peer{}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		if i == 0 {
			continue // interface header line
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		hs, _ := strconv.ParseInt(fields[4], 10, 64)
		rx, _ := strconv.ParseInt(fields[5], 10, 64)
		tx, _ := strconv.ParseInt(fields[6], 10, 64)
		entry := Peer{PublicKey: fields[0], ReceiveBytes: rx, TransmitBytes: tx}
		if hs > 0 {
			entry.LastHandshake = time.Unix(hs, 0)
		}
		stats[fields[0]] = entry
	}
	return stats
}

func (p *RemoteProvisioner) serverPublicKey(ctx context.Context) (string, error) {
	p.mu.Lock()
	cached := p.serverPub
	p.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	out, err := p.run(ctx, "wg show "+p.device+" public-key")
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(out)

	p.mu.Lock()
	p.serverPub = key
	p.mu.Unlock()
	return key, nil
}

// run executes one command on the daemon host, reconnecting once if the
// cached session is stale. The context bounds the whole attempt.
func (p *RemoteProvisioner) run(ctx context.Context, cmd string) (string, error) {
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := p.runOnce(cmd)
		if err != nil {
			// one reconnect attempt for dropped connections
			p.dropClient()
			out, err = p.runOnce(cmd)
		}
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.out, r.err
	}
}

func (p *RemoteProvisioner) runOnce(cmd string) (string, error) {
	client, err := p.getClient()
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "failed to open ssh session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Run(cmd); err != nil {
		return "", errors.Wrapf(err, "remote command failed: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (p *RemoteProvisioner) getClient() (*ssh.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := ssh.Dial("tcp", p.addr, p.sshCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial ssh")
	}
	p.client = client
	return client, nil
}

func (p *RemoteProvisioner) dropClient() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		_ = p.client.Close()
		p.client = nil
	}
}
