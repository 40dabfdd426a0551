package provisioning

import (
	"bytes"
	"encoding/base64"
	"net"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

type clientConfig struct {
	Address         string
	PrivateKey      string
	DNS             []string
	ServerPublicKey string
	Endpoint        string
}

var confTmpl = template.Must(template.New("client.conf").Parse(
	`[Interface]
PrivateKey = {{ .PrivateKey }}
Address = {{ .Address }}
DNS = {{ .DNSList }}

[Peer]
PublicKey = {{ .ServerPublicKey }}
AllowedIPs = 0.0.0.0/0
Endpoint = {{ .Endpoint }}
PersistentKeepalive = 25
`))

func (c clientConfig) DNSList() string { return strings.Join(c.DNS, ", ") }

// renderCredential renders the client config and wraps it into the
// vpn:// URI form the original daemon tooling understands.
func renderCredential(cfg clientConfig) (Credential, error) {
	var buf bytes.Buffer
	if err := confTmpl.Execute(&buf, cfg); err != nil {
		return "", errors.Wrap(err, "failed to render client config")
	}
	blob := base64.RawURLEncoding.EncodeToString(buf.Bytes())
	return Credential("vpn://" + blob), nil
}

// nextFreeIP picks the first unused host address after base within a
// /24, starting at .2 (.1 is the server).
func nextFreeIP(base net.IP, used map[string]bool) (string, error) {
	ip4 := base.To4()
	if ip4 == nil {
		return "", errors.New("server address is not IPv4")
	}
	for host := byte(2); host < 255; host++ {
		candidate := net.IPv4(ip4[0], ip4[1], ip4[2], host).String()
		if !used[candidate] {
			return candidate, nil
		}
	}
	return "", errors.New("no free addresses left in subnet")
}
