package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	Telegram struct {
		Token string
		// Bootstrap admins; copied into the durable roster on first start.
		AdminIDs []int64 `mapstructure:"admin_ids"`
	} `mapstructure:"telegram"`

	Storage struct {
		Dir       string
		BackupDir string `mapstructure:"backup_dir"`
	} `mapstructure:"storage"`

	Session struct {
		Backend   string // memory | redis
		TTL       time.Duration
		RedisAddr string `mapstructure:"redis_addr"`
	} `mapstructure:"session"`

	WireGuard struct {
		Interface string
		Endpoint  string
		DNS       []string
		// dev → in-memory provisioner, local → wgctrl on this host,
		// ssh → wg commands on a remote host over SSH.
		Mode string
		// Subnet is the server tunnel address, base of the client /24.
		// Used in ssh mode; local mode reads it off the interface.
		Subnet  string
		SSHAddr string `mapstructure:"ssh_addr"`
		SSHUser string `mapstructure:"ssh_user"`
		SSHKey  string `mapstructure:"ssh_key"`
	} `mapstructure:"wireguard"`

	YooKassa struct {
		ShopID    string `mapstructure:"shop_id"`
		SecretKey string `mapstructure:"secret_key"`
		ReturnURL string `mapstructure:"return_url"`
		// Fake replaces the real API with an always-settling stub.
		Fake bool
	} `mapstructure:"yookassa"`

	Scheduler struct {
		ExpireEvery    time.Duration `mapstructure:"expire_every"`
		ReconcileEvery time.Duration `mapstructure:"reconcile_every"`
		PeersEvery     time.Duration `mapstructure:"peers_every"`
	} `mapstructure:"scheduler"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("storage.dir", "files")
	v.SetDefault("storage.backup_dir", "backups")
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("wireguard.mode", "dev")
	v.SetDefault("wireguard.subnet", "10.8.0.1")
	v.SetDefault("scheduler.expire_every", time.Minute)
	v.SetDefault("scheduler.reconcile_every", time.Minute)
	v.SetDefault("scheduler.peers_every", 5*time.Minute)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.enabled", true)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}
