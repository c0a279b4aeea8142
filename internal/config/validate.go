package config

import "fmt"

// Validate enforces the structural rules spec.md §6 places on the parsed
// configuration: unique server ids, unique (host, port) pairs across every
// listening port, a front port on every member of a front-capable group,
// and at least one "master" group with a server. Several master groups are
// accepted; resolve has already picked the first one's first server.
func Validate(cfg *Config) error {
	if err := validateUniqueIDs(cfg); err != nil {
		return err
	}
	if err := validateUniqueEndpoints(cfg); err != nil {
		return err
	}
	if err := validateFrontPorts(cfg); err != nil {
		return err
	}
	if cfg.MasterGroup == "" {
		return fmt.Errorf("config: no group named %q with at least one server", masterGroupName)
	}
	return nil
}

func validateUniqueIDs(cfg *Config) error {
	seen := make(map[uint32]string)
	for _, g := range cfg.Groups {
		for _, s := range g.Servers {
			if prior, ok := seen[s.ID]; ok {
				return fmt.Errorf("config: server id %d used by both group %q and group %q", s.ID, prior, g.Name)
			}
			seen[s.ID] = g.Name
		}
	}
	return nil
}

type endpoint struct {
	host string
	port uint16
}

func validateUniqueEndpoints(cfg *Config) error {
	seen := make(map[endpoint]uint32)
	check := func(host string, port uint16, id uint32) error {
		if port == 0 {
			return nil
		}
		ep := endpoint{host: host, port: port}
		if prior, ok := seen[ep]; ok {
			return fmt.Errorf("config: %s:%d used by both server %d and server %d", host, port, prior, id)
		}
		seen[ep] = id
		return nil
	}

	for _, g := range cfg.Groups {
		for _, s := range g.Servers {
			if err := check(s.EffectiveBackHost(), s.BackTCPPort, s.ID); err != nil {
				return err
			}
			if err := check(s.EffectiveFrontHost(), s.FrontTCPPort, s.ID); err != nil {
				return err
			}
			if err := check(s.EffectiveFrontHost(), s.FrontWSPort, s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateFrontPorts(cfg *Config) error {
	for _, g := range cfg.Groups {
		if !g.Front {
			continue
		}
		for _, s := range g.Servers {
			if s.FrontTCPPort == 0 && s.FrontWSPort == 0 {
				return fmt.Errorf("config: server %d in front-capable group %q has no front_tcp_port or front_ws_port", s.ID, g.Name)
			}
		}
	}
	return nil
}
