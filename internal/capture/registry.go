package capture

import (
	"fmt"
)

// Registration is a provider-issued client identifier together with the one
// local port the provider accepts as its redirect target.
type Registration struct {
	ClientID string `yaml:"clientId"`
	Port     int    `yaml:"port"`
}

// RedirectURI is the local address the provider sends the browser back to.
func (r Registration) RedirectURI(host string) string {
	return fmt.Sprintf("http://%s:%d/", host, r.Port)
}

// Registrations is the ordered candidate table. Sessions always try entries
// in this order.
type Registrations []Registration

// Ports returns the candidate ports in priority order.
func (rs Registrations) Ports() []int {
	ports := make([]int, len(rs))
	for i, r := range rs {
		ports[i] = r.Port
	}
	return ports
}

// At returns the registration chosen by a listener candidate index.
func (rs Registrations) At(i int) (Registration, bool) {
	if i < 0 || i >= len(rs) {
		return Registration{}, false
	}
	return rs[i], true
}

// Validate checks that the table is non-empty, that every entry has a client
// id and a valid port, and that no port is shared between entries.
func (rs Registrations) Validate() error {
	if len(rs) == 0 {
		return fmt.Errorf("%w: no client registrations", ErrConfiguration)
	}
	seen := make(map[int]string, len(rs))
	for i, r := range rs {
		if r.ClientID == "" {
			return fmt.Errorf("%w: registration %d has an empty client id", ErrConfiguration, i)
		}
		if r.Port <= 0 || r.Port > 65535 {
			return fmt.Errorf("%w: registration %d has invalid port %d", ErrConfiguration, i, r.Port)
		}
		if other, ok := seen[r.Port]; ok {
			return fmt.Errorf("%w: port %d is registered for both %s and %s", ErrConfiguration, r.Port, other, r.ClientID)
		}
		seen[r.Port] = r.ClientID
	}
	return nil
}
