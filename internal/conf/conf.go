// Package conf contains the configuration of the server.
package conf

import (
	"bytes"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/netlab/rtspserver/internal/launch"
)

// DefaultLaunch is the launch description of the default mount point.
const DefaultLaunch = "videotestsrc ! videoconvert ! x264enc ! rtph264pay name=pay0 pt=96"

// DefaultPath is the path of the default mount point.
const DefaultPath = "/test"

// Duration is a time.Duration that is written in YAML as a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	err := value.Decode(&s)
	if err != nil {
		return err
	}

	du, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration '%s'", s)
	}

	*d = Duration(du)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// API is the configuration of the control API.
type API struct {
	Enable  bool   `yaml:"enable" json:"enable"`
	Address string `yaml:"address" json:"address"`
	Pprof   bool   `yaml:"pprof" json:"pprof"`
}

// Mount is the configuration of a mount point.
type Mount struct {
	Launch string `yaml:"launch" json:"launch"`
	Shared bool   `yaml:"shared" json:"shared"`
}

// Conf is the configuration of the server.
type Conf struct {
	LogLevel          string            `yaml:"logLevel"`
	RTSPAddress       string            `yaml:"rtspAddress"`
	UDPRTPAddress     string            `yaml:"udpRTPAddress"`
	UDPRTCPAddress    string            `yaml:"udpRTCPAddress"`
	MulticastIPRange  string            `yaml:"multicastIPRange"`
	MulticastRTPPort  int               `yaml:"multicastRTPPort"`
	MulticastRTCPPort int               `yaml:"multicastRTCPPort"`
	WebSocketAddress  string            `yaml:"webSocketAddress"`
	ReadTimeout       Duration          `yaml:"readTimeout"`
	WriteTimeout      Duration          `yaml:"writeTimeout"`
	SessionTimeout    Duration          `yaml:"sessionTimeout"`
	WriteQueueSize    int               `yaml:"writeQueueSize"`
	API               API               `yaml:"api"`
	Mounts            map[string]*Mount `yaml:"mounts"`

	// whether the UDP addresses were written in the configuration.
	udpSet bool
}

func (c *Conf) setDefaults() {
	c.LogLevel = "info"
	c.RTSPAddress = "127.0.0.1:8554"
	c.UDPRTPAddress = "127.0.0.1:8000"
	c.UDPRTCPAddress = "127.0.0.1:8001"
	c.MulticastIPRange = "224.1.0.0/16"
	c.MulticastRTPPort = 8002
	c.MulticastRTCPPort = 8003
	c.ReadTimeout = Duration(10 * time.Second)
	c.WriteTimeout = Duration(10 * time.Second)
	c.SessionTimeout = Duration(60 * time.Second)
	c.WriteQueueSize = 512
	c.API = API{
		Address: "127.0.0.1:9997",
	}
}

// Default returns the default configuration.
func Default() *Conf {
	c := &Conf{}
	c.setDefaults()
	c.Mounts = map[string]*Mount{
		DefaultPath: {Launch: DefaultLaunch},
	}
	return c
}

// Load loads the configuration from a YAML file.
// An empty path returns the default configuration.
func Load(fpath string) (*Conf, error) {
	if fpath == "" {
		c := Default()
		return c, c.Validate()
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration")
	}

	c := &Conf{}
	err = c.Unmarshal(byts)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load '%s'", fpath)
	}

	return c, nil
}

// Unmarshal decodes and validates a YAML configuration.
// Missing keys take their default value.
func (c *Conf) Unmarshal(byts []byte) error {
	*c = Conf{}
	c.setDefaults()

	dec := yaml.NewDecoder(bytes.NewReader(byts))
	dec.KnownFields(true)

	err := dec.Decode(c)
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "invalid YAML")
	}

	var udp struct {
		RTP  *string `yaml:"udpRTPAddress"`
		RTCP *string `yaml:"udpRTCPAddress"`
	}
	yaml.Unmarshal(byts, &udp) //nolint:errcheck
	c.udpSet = udp.RTP != nil || udp.RTCP != nil
	c.followRTSPHost()

	// the default mount point is used only when no mount is listed.
	if c.Mounts == nil {
		c.Mounts = map[string]*Mount{
			DefaultPath: {Launch: DefaultLaunch},
		}
	}

	return c.Validate()
}

// SetRTSPAddress changes the address of the RTSP listener.
// UDP listeners that were not configured explicitly move to the same host.
func (c *Conf) SetRTSPAddress(address string) {
	c.RTSPAddress = address
	c.followRTSPHost()
}

func (c *Conf) followRTSPHost() {
	if c.udpSet {
		return
	}

	host, _, err := net.SplitHostPort(c.RTSPAddress)
	if err != nil {
		return
	}

	for _, addr := range []*string{&c.UDPRTPAddress, &c.UDPRTCPAddress} {
		if _, port, err := net.SplitHostPort(*addr); err == nil {
			*addr = net.JoinHostPort(host, port)
		}
	}
}

func splitPort(address string) (int, error) {
	_, tmp, err := net.SplitHostPort(address)
	if err != nil {
		return 0, err
	}

	port, err := strconv.ParseUint(tmp, 10, 16)
	if err != nil {
		return 0, err
	}

	return int(port), nil
}

func checkPortPair(rtp int, rtcp int) error {
	if (rtp % 2) != 0 {
		return errors.Errorf("RTP port %d must be even", rtp)
	}

	if rtcp != (rtp + 1) {
		return errors.Errorf("RTCP port %d must be RTP port + 1", rtcp)
	}

	return nil
}

// Validate checks the configuration.
func (c *Conf) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid logLevel '%s'", c.LogLevel)
	}

	_, err := splitPort(c.RTSPAddress)
	if err != nil {
		return errors.Wrapf(err, "invalid rtspAddress '%s'", c.RTSPAddress)
	}

	if (c.UDPRTPAddress == "") != (c.UDPRTCPAddress == "") {
		return errors.New("udpRTPAddress and udpRTCPAddress must be set together")
	}

	if c.UDPRTPAddress != "" {
		rtpPort, err := splitPort(c.UDPRTPAddress)
		if err != nil {
			return errors.Wrapf(err, "invalid udpRTPAddress '%s'", c.UDPRTPAddress)
		}

		rtcpPort, err := splitPort(c.UDPRTCPAddress)
		if err != nil {
			return errors.Wrapf(err, "invalid udpRTCPAddress '%s'", c.UDPRTCPAddress)
		}

		err = checkPortPair(rtpPort, rtcpPort)
		if err != nil {
			return err
		}
	}

	if c.MulticastIPRange != "" {
		_, ipNet, err := net.ParseCIDR(c.MulticastIPRange)
		if err != nil {
			return errors.Wrapf(err, "invalid multicastIPRange '%s'", c.MulticastIPRange)
		}

		if ipNet.IP.To4() == nil || !ipNet.IP.IsMulticast() {
			return errors.Errorf("multicastIPRange '%s' is not an IPv4 multicast range", c.MulticastIPRange)
		}

		err = checkPortPair(c.MulticastRTPPort, c.MulticastRTCPPort)
		if err != nil {
			return err
		}
	}

	if c.WebSocketAddress != "" {
		_, err := splitPort(c.WebSocketAddress)
		if err != nil {
			return errors.Wrapf(err, "invalid webSocketAddress '%s'", c.WebSocketAddress)
		}
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.SessionTimeout <= 0 {
		return errors.New("timeouts must be greater than zero")
	}

	if c.WriteQueueSize <= 0 || (c.WriteQueueSize&(c.WriteQueueSize-1)) != 0 {
		return errors.Errorf("writeQueueSize %d must be a power of two", c.WriteQueueSize)
	}

	if c.API.Enable {
		_, err := splitPort(c.API.Address)
		if err != nil {
			return errors.Wrapf(err, "invalid api address '%s'", c.API.Address)
		}
	}

	if len(c.Mounts) == 0 {
		return errors.New("at least one mount point is required")
	}

	for path, m := range c.Mounts {
		if !strings.HasPrefix(path, "/") {
			return errors.Errorf("mount path '%s' must start with a slash", path)
		}

		if m == nil {
			return errors.Errorf("mount '%s' is empty", path)
		}

		_, err := launch.Parse(m.Launch)
		if err != nil {
			return errors.Wrapf(err, "invalid launch of mount '%s'", path)
		}
	}

	return nil
}

// LogrusLevel returns the log level as a logrus.Level.
func (c *Conf) LogrusLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
