// Package daemon implements the event loop (spec §4.J) and the in-band
// control protocol carried over the helper socket (spec §4.K), wiring
// together the event queue, execution queue, netlink/helper sockets, and
// the resolver/applier/record-store pipeline each forked worker runs.
package daemon

// Config holds the daemon's startup configuration: CLI/env/TOML tunables.
// The daemon itself never evaluates rules or permissions — only the forked
// worker does, independently reloading them from Config (the TOML file
// path) via config.LoadRulesAndPermissions, since cmd.Env replaces the
// worker's whole environment and can't carry the parsed tables directly.
// Env tags carry the literal names spec §5 mandates, so LoadConfig is
// called with an empty envPrefix for this struct.
type Config struct {
	Config string `help:"Path to the daemon's TOML config file"`

	ExpectedSeqnum      uint64 `toml:"expected_seqnum" env:"UDEVD_EXPECTED_SEQNUM"`
	EventTimeoutSeconds int    `toml:"event_timeout" env:"UDEVD_EVENT_TIMEOUT"`
	MaxChilds           int    `toml:"max_childs" env:"UDEVD_MAX_CHILDS"`
	MaxChildsRunning    int    `toml:"max_childs_running" env:"UDEVD_MAX_CHILDS_RUNNING"`
	UdevBin             string `toml:"udev_bin" env:"UDEV_BIN"`
	Debug               bool   `toml:"debug" env:"DEBUG"`

	InitPhaseTimeoutSeconds int    `toml:"init_phase_timeout"`
	InitPhaseWindowSeconds  int    `toml:"init_phase_window"`
	HelperSocketName        string `toml:"helper_socket"`
	DevRoot                 string `toml:"dev_root"`
	RecordDir               string `toml:"record_dir"`
	ForkRateLimitPerSecond  int    `toml:"fork_rate_limit"`
	SystemLoadCap           int    `toml:"system_load_cap"`
	IntrospectAddr          string `toml:"introspect_addr"`

	ColdplugSubsystems []string `toml:"coldplug_subsystems"`
}

// Defaults mirror what the original daemon assumes when the corresponding
// environment tunable and config key are both absent.
func (c *Config) applyDefaults() {
	if c.EventTimeoutSeconds == 0 {
		c.EventTimeoutSeconds = 30
	}
	if c.InitPhaseTimeoutSeconds == 0 {
		c.InitPhaseTimeoutSeconds = 3
	}
	if c.InitPhaseWindowSeconds == 0 {
		c.InitPhaseWindowSeconds = 15
	}
	if c.MaxChilds == 0 {
		c.MaxChilds = 32
	}
	if c.MaxChildsRunning == 0 {
		c.MaxChildsRunning = c.MaxChilds
	}
	if c.UdevBin == "" {
		c.UdevBin = "/usr/lib/devnoded/worker"
	}
	if c.HelperSocketName == "" {
		c.HelperSocketName = "devnoded/helper"
	}
	if c.DevRoot == "" {
		c.DevRoot = "/dev"
	}
	if c.RecordDir == "" {
		c.RecordDir = "/run/devnoded/records"
	}
	if c.ForkRateLimitPerSecond == 0 {
		c.ForkRateLimitPerSecond = 50
	}
	if c.IntrospectAddr == "" {
		c.IntrospectAddr = "127.0.0.1:8984"
	}
}
