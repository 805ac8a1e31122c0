package reactor

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

var ErrInvalidRelay = errors.New("invalid relay config")

type RelaysConfig struct {
	Relays []struct {
		Name string `yaml:"name"`
		URL  string `yaml:"url"`
		// Simulate marks the relay used for eth_callBundle, the first relay is used when none is marked
		Simulate bool `yaml:"simulate"`
		// RateLimit is requests per second, zero means unlimited
		RateLimit float64       `yaml:"rate_limit"`
		Timeout   time.Duration `yaml:"timeout"`
		Disabled  bool          `yaml:"disabled"`
	} `yaml:"relays"`
}

// Relays is the set of relays bundles are broadcast to
type Relays struct {
	Simulator RelayBackend
	All       []RelayBackend
}

// LoadRelaysConfig parses a relays config from a file
func LoadRelaysConfig(file string, signingKey *ecdsa.PrivateKey) (Relays, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Relays{}, err
	}
	return ParseRelaysConfig(data, signingKey)
}

func ParseRelaysConfig(data []byte, signingKey *ecdsa.PrivateKey) (Relays, error) {
	var config RelaysConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Relays{}, err
	}

	var relays Relays
	for _, relay := range config.Relays {
		if relay.Disabled {
			continue
		}
		if relay.Name == "" || relay.URL == "" {
			return Relays{}, fmt.Errorf("%w: name and url are required", ErrInvalidRelay)
		}
		if relay.RateLimit < 0 {
			return Relays{}, fmt.Errorf("%w: negative rate limit for %s", ErrInvalidRelay, relay.Name)
		}
		limit := rate.Inf
		if relay.RateLimit > 0 {
			limit = rate.Limit(relay.RateLimit)
		}

		backend := NewJSONRPCRelay(relay.Name, relay.URL, signingKey, limit, relay.Timeout)
		relays.All = append(relays.All, backend)
		if relay.Simulate && relays.Simulator == nil {
			relays.Simulator = backend
		}
	}
	if len(relays.All) == 0 {
		return Relays{}, ErrNoRelays
	}
	if relays.Simulator == nil {
		relays.Simulator = relays.All[0]
	}
	return relays, nil
}

// ParseRelayList parses a comma separated list of `name=url` or bare urls.
// The first relay simulates bundles.
func ParseRelayList(list string, signingKey *ecdsa.PrivateKey) (Relays, error) {
	var relays Relays
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rawURL, found := strings.Cut(entry, "=")
		if !found {
			rawURL = entry
			name = ""
		}
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Host == "" {
			return Relays{}, fmt.Errorf("%w: %s", ErrInvalidRelay, entry)
		}
		if name == "" {
			name = parsed.Host
		}
		relays.All = append(relays.All, NewJSONRPCRelay(name, rawURL, signingKey, rate.Inf, 0))
	}
	if len(relays.All) == 0 {
		return Relays{}, ErrNoRelays
	}
	relays.Simulator = relays.All[0]
	return relays, nil
}
