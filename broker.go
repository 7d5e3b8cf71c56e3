package wrcgw

import (
	"errors"
	"net/url"
)

// Driver is a pub/sub connection to one broker channel. Publish sends one
// message; Receive blocks (bounded by the driver's own read timeout) for
// the next message on the subscribed channel. Close releases the
// connection. Adapted from aznet.go's storage Driver — the concern here is
// a single topic's publish/subscribe pair rather than session handshake.
type Driver interface {
	Publish(payload []byte) error
	Receive() (payload []byte, err error)
	Close() error
}

// Factory creates a Driver for a broker URL and channel name.
type Factory interface {
	NewDriver(uri, queue string) (Driver, error)
}

var factories = make(map[string]Factory)

// ErrUnsupportedScheme is returned when no registered Factory exists for a
// broker URL's scheme.
var ErrUnsupportedScheme = errors.New("wrcgw: unsupported broker scheme")

// errBrokerTimeout is returned by Driver.Receive when no message arrived
// within the driver's own read timeout; callers treat it as "try again",
// not a connection failure.
var errBrokerTimeout = errors.New("wrcgw: broker receive timeout")

// RegisterFactory registers a Factory for the given URL scheme (e.g.
// "redis"). Intended to be called from a driver package's init().
func RegisterFactory(scheme string, factory Factory) {
	if _, dup := factories[scheme]; dup {
		panic("wrcgw: factory already registered for scheme " + scheme)
	}
	factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	f, ok := factories[scheme]
	return f, ok
}

// DialBroker resolves uri's scheme to a registered Factory and opens a
// Driver against queue.
func DialBroker(uri, queue string) (Driver, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	factory, ok := lookupFactory(u.Scheme)
	if !ok {
		return nil, ErrUnsupportedScheme
	}
	return factory.NewDriver(uri, queue)
}
