package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Built-in endpoint defaults, the first tier of the endpoint merge.
const (
	defaultPort                 = 1883
	defaultConnectTimeout       = 10 * time.Second
	defaultKeepAlive            = 30 * time.Second
	defaultMaxConnectionRetries = 3
	defaultRetryDelay           = 500 * time.Millisecond
	defaultQoS                  = 1
)

// Endpoint is the immutable connection configuration for one broker.
//
// Values are produced by ClusterConfig.BuildEndpoints and are never mutated
// afterwards; pass them by value.
type Endpoint struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string

	// ClientID identifies the client to the broker. Empty means a fresh
	// identifier is generated for every transport handle.
	ClientID string

	ConnectTimeout time.Duration
	KeepAlive      time.Duration

	// MaxConnectionRetries bounds consecutive failed connects (and failed
	// publishes) before the connection gives up. 0 means unlimited.
	MaxConnectionRetries int

	// RetryDelay is the wait between a failed attempt and the next one.
	RetryDelay time.Duration

	LastWillPayload string
	LastWillTopic   string

	QoS byte
}

// Address returns host:port for logging and dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// HasLastWill reports whether both last-will fields are set.
func (e Endpoint) HasLastWill() bool {
	return e.LastWillPayload != "" && e.LastWillTopic != ""
}

func (e Endpoint) validate(field string) []string {
	var errs []string
	if e.Host == "" {
		errs = append(errs, field+".host is required")
	}
	if e.Port < 1 || e.Port > 65535 {
		errs = append(errs, field+".port must be between 1 and 65535")
	}
	if e.QoS > 2 {
		errs = append(errs, field+".qos must be 0, 1, or 2")
	}
	if e.MaxConnectionRetries < 0 {
		errs = append(errs, field+".max_connection_retries must not be negative")
	}
	if e.RetryDelay < 0 {
		errs = append(errs, field+".retry_delay_ms must not be negative")
	}
	if e.ConnectTimeout <= 0 {
		errs = append(errs, field+".connect_timeout_seconds must be positive")
	}
	return errs
}

// EndpointOverrides is the YAML shape of the cluster template and of each
// endpoint entry. Nil fields inherit from the tier below, so an explicit
// zero value still overrides.
type EndpointOverrides struct {
	Host                  *string `yaml:"host"`
	Port                  *int    `yaml:"port"`
	TLS                   *bool   `yaml:"tls"`
	Username              *string `yaml:"username"`
	Password              *string `yaml:"password"`
	ClientID              *string `yaml:"client_id"`
	ConnectTimeoutSeconds *int    `yaml:"connect_timeout_seconds"`
	KeepAliveSeconds      *int    `yaml:"keep_alive_seconds"`
	MaxConnectionRetries  *int    `yaml:"max_connection_retries"`
	RetryDelayMillis      *int    `yaml:"retry_delay_ms"`
	LastWillPayload       *string `yaml:"last_will_payload"`
	LastWillTopic         *string `yaml:"last_will_topic"`
	QoS                   *int    `yaml:"qos"`
}

// DefaultEndpoint returns the built-in defaults with the given host.
func DefaultEndpoint(host string) Endpoint {
	return Endpoint{
		Host:                 host,
		Port:                 defaultPort,
		ConnectTimeout:       defaultConnectTimeout,
		KeepAlive:            defaultKeepAlive,
		MaxConnectionRetries: defaultMaxConnectionRetries,
		RetryDelay:           defaultRetryDelay,
		QoS:                  defaultQoS,
	}
}

// Apply returns a copy of base with every non-nil override written over it.
func (o EndpointOverrides) Apply(base Endpoint) Endpoint {
	ep := base
	if o.Host != nil {
		ep.Host = *o.Host
	}
	if o.Port != nil {
		ep.Port = *o.Port
	}
	if o.TLS != nil {
		ep.TLS = *o.TLS
	}
	if o.Username != nil {
		ep.Username = *o.Username
	}
	if o.Password != nil {
		ep.Password = *o.Password
	}
	if o.ClientID != nil {
		ep.ClientID = *o.ClientID
	}
	if o.ConnectTimeoutSeconds != nil {
		ep.ConnectTimeout = time.Duration(*o.ConnectTimeoutSeconds) * time.Second
	}
	if o.KeepAliveSeconds != nil {
		ep.KeepAlive = time.Duration(*o.KeepAliveSeconds) * time.Second
	}
	if o.MaxConnectionRetries != nil {
		ep.MaxConnectionRetries = *o.MaxConnectionRetries
	}
	if o.RetryDelayMillis != nil {
		ep.RetryDelay = time.Duration(*o.RetryDelayMillis) * time.Millisecond
	}
	if o.LastWillPayload != nil {
		ep.LastWillPayload = *o.LastWillPayload
	}
	if o.LastWillTopic != nil {
		ep.LastWillTopic = *o.LastWillTopic
	}
	if o.QoS != nil && *o.QoS >= 0 && *o.QoS <= 2 {
		ep.QoS = byte(*o.QoS)
	}
	return ep
}

// validate checks raw values that cannot survive conversion into Endpoint.
func (o EndpointOverrides) validate(field string) []string {
	var errs []string
	if o.QoS != nil && (*o.QoS < 0 || *o.QoS > 2) {
		errs = append(errs, fmt.Sprintf("%s.qos must be 0, 1, or 2, got %d", field, *o.QoS))
	}
	return errs
}

// BuildEndpoints merges built-in defaults, the cluster template and each
// endpoint's overrides, in that order, into immutable Endpoint values.
func (c ClusterConfig) BuildEndpoints() []Endpoint {
	base := c.Template.Apply(DefaultEndpoint(""))

	endpoints := make([]Endpoint, 0, len(c.Endpoints))
	for _, o := range c.Endpoints {
		endpoints = append(endpoints, o.Apply(base))
	}
	return endpoints
}

// WithEndpoint returns the overrides for a discovered or sidecar broker, ready to
// be appended to ClusterConfig.Endpoints.
func WithEndpoint(host string, port int) EndpointOverrides {
	return EndpointOverrides{Host: &host, Port: &port}
}

// String implements fmt.Stringer without leaking credentials.
func (e Endpoint) String() string {
	scheme := "tcp"
	if e.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, e.Address())
}
