package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultBindAddress is the host address used when a port binding doesn't set one.
	DefaultBindAddress = "127.0.0.1"
	// DefaultProtocol is the protocol used when a port binding doesn't set one.
	DefaultProtocol = "tcp"
)

// SandboxConfig is the configuration used to acquire a sandbox from an engine.
// These settings are immutable after acquisition.
type SandboxConfig struct {
	// Name is the sandbox name on the engine, if empty engines will generate one.
	Name string
	// Image is the image reference (e.g: `redis:5.0.7`) the sandbox runs.
	Image string
	// PortBindings are the container ports exposed on the host.
	PortBindings []PortBinding
	// Env are the environment variables set on the sandbox.
	Env map[string]string
	// Cmd overrides the image command when set.
	Cmd []string
	// RemoveImageOnRelease will (soft) delete the image when the sandbox is released.
	RemoveImageOnRelease bool
}

// Validate validates the sandbox configuration.
func (c *SandboxConfig) Validate() error {
	if strings.TrimSpace(c.Image) == "" {
		return fmt.Errorf("image is required: %w", ErrNotValid)
	}

	seen := map[string]bool{}
	for _, pb := range c.PortBindings {
		if err := pb.Validate(); err != nil {
			return fmt.Errorf("invalid port binding %s: %w", pb, err)
		}

		key := pb.ContainerPortProto()
		if seen[key] {
			return fmt.Errorf("container port %s bound more than once: %w", key, ErrNotValid)
		}
		seen[key] = true
	}

	return nil
}

// PortBinding binds a port inside the sandbox to an address on the host.
type PortBinding struct {
	// ContainerPort is the port inside the sandbox.
	ContainerPort int
	// Protocol is the port protocol, defaults to "tcp".
	Protocol string
	// HostIP is the host address to bind on, defaults to "127.0.0.1".
	HostIP string
	// HostPort is the port on the host.
	HostPort int
}

// Validate validates the port binding.
func (p PortBinding) Validate() error {
	if p.ContainerPort < 1 || p.ContainerPort > 65535 {
		return fmt.Errorf("container port %d out of range (1-65535): %w", p.ContainerPort, ErrNotValid)
	}
	if p.HostPort < 0 || p.HostPort > 65535 {
		return fmt.Errorf("host port %d out of range (0-65535): %w", p.HostPort, ErrNotValid)
	}

	switch p.Proto() {
	case "tcp", "udp", "sctp":
	default:
		return fmt.Errorf("unknown protocol %q: %w", p.Protocol, ErrNotValid)
	}

	return nil
}

// Proto returns the binding protocol, defaulting to tcp.
func (p PortBinding) Proto() string {
	if p.Protocol == "" {
		return DefaultProtocol
	}
	return strings.ToLower(p.Protocol)
}

// BindAddress returns the host bind address, defaulting to DefaultBindAddress.
func (p PortBinding) BindAddress() string {
	if p.HostIP == "" {
		return DefaultBindAddress
	}
	return p.HostIP
}

// ContainerPortProto returns the container port in `port/proto` form.
func (p PortBinding) ContainerPortProto() string {
	return fmt.Sprintf("%d/%s", p.ContainerPort, p.Proto())
}

// HostAddress returns the `host:port` address the binding is reachable on.
func (p PortBinding) HostAddress() string {
	return net.JoinHostPort(p.BindAddress(), strconv.Itoa(p.HostPort))
}

// String returns the string representation of the port binding.
func (p PortBinding) String() string {
	return fmt.Sprintf("%s->%s", p.HostAddress(), p.ContainerPortProto())
}

// ParsePortBinding parses a port binding string.
// Supported formats:
//   - "6379" -> 127.0.0.1:6379 -> 6379/tcp
//   - "16379:6379" -> 127.0.0.1:16379 -> 6379/tcp
//   - "0.0.0.0:16379:6379" -> 0.0.0.0:16379 -> 6379/tcp
//   - Any of the above with a "/udp" suffix.
func ParsePortBinding(s string) (PortBinding, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortBinding{}, fmt.Errorf("port binding cannot be empty: %w", ErrNotValid)
	}

	pb := PortBinding{}
	if spec, proto, ok := strings.Cut(s, "/"); ok {
		s = spec
		pb.Protocol = proto
	}

	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		port, err := parsePort(parts[0])
		if err != nil {
			return PortBinding{}, err
		}
		pb.ContainerPort, pb.HostPort = port, port

	case 2, 3:
		if len(parts) == 3 {
			pb.HostIP = strings.TrimSpace(parts[0])
			parts = parts[1:]
		}
		hostPort, err := parsePort(parts[0])
		if err != nil {
			return PortBinding{}, fmt.Errorf("invalid host port: %w", err)
		}
		containerPort, err := parsePort(parts[1])
		if err != nil {
			return PortBinding{}, fmt.Errorf("invalid container port: %w", err)
		}
		pb.HostPort, pb.ContainerPort = hostPort, containerPort

	default:
		return PortBinding{}, fmt.Errorf("invalid port binding format %q, expected '[host-ip:][host-port:]port[/proto]': %w", s, ErrNotValid)
	}

	if err := pb.Validate(); err != nil {
		return PortBinding{}, err
	}

	return pb, nil
}

// parsePort parses and validates a single port number.
func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, ErrNotValid)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535): %w", port, ErrNotValid)
	}
	return port, nil
}
