package config

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Settings is the live-reloadable part of the configuration. A snapshot is
// immutable once published; callers must not modify it.
type Settings struct {
	GuestRPM         int
	UserRPM          int
	LogRetentionDays int

	// Blocked holds IPs and CIDR ranges that may not use the public API.
	Blocked []netip.Prefix

	LoadedAt time.Time
}

// IsBlocked reports whether ip falls in any blocked range.
func (s *Settings) IsBlocked(ip string) bool {
	if len(s.Blocked) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.Blocked {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// SettingsSource supplies the persisted overrides.
type SettingsSource interface {
	GetSystemConfig(ctx context.Context) (map[string]string, error)
	ListBlockedIPs(ctx context.Context) ([]string, error)
}

// Live publishes Settings snapshots and swaps them atomically on refresh.
type Live struct {
	source   SettingsSource
	defaults Settings
	current  atomic.Pointer[Settings]
}

// NewLive creates a Live holder that starts out with the static defaults.
func NewLive(source SettingsSource, defaults Settings) *Live {
	l := &Live{source: source, defaults: defaults}
	snap := defaults
	snap.LoadedAt = time.Now()
	l.current.Store(&snap)
	return l
}

// Current returns the latest published snapshot.
func (l *Live) Current() *Settings {
	return l.current.Load()
}

// Refresh reloads overrides from the source. On error the previous snapshot
// stays in place.
func (l *Live) Refresh(ctx context.Context) error {
	values, err := l.source.GetSystemConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load system config: %w", err)
	}
	blocked, err := l.source.ListBlockedIPs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blocked IPs: %w", err)
	}

	snap := Settings{
		GuestRPM:         positiveInt(values["guest_rpm"], l.defaults.GuestRPM),
		UserRPM:          positiveInt(values["user_rpm"], l.defaults.UserRPM),
		LogRetentionDays: positiveInt(values["log_retention_days"], l.defaults.LogRetentionDays),
		Blocked:          parsePrefixes(blocked),
		LoadedAt:         time.Now(),
	}
	l.current.Store(&snap)
	return nil
}

// Run refreshes on every tick until ctx is done.
func (l *Live) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				log.Printf("settings refresh error: %v", err)
			}
		}
	}
}

func positiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func parsePrefixes(entries []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				log.Printf("ignoring invalid blocked range %q: %v", entry, err)
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			log.Printf("ignoring invalid blocked IP %q: %v", entry, err)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}
