package main

import (
	"strings"

	"github.com/hrtrack/hrtrack/internal/session"
)

// pickDevice selects the strap to connect to from a scan result.
//
// With an explicit address only a case-insensitive exact match wins.
// Otherwise devices advertising the Heart Rate service are preferred,
// filtered by the name hint when one is given, and a plain name match is
// the last resort. Straps that are asleep stop advertising the service
// list, hence the name fallback.
func pickDevice(devices []session.DeviceRef, address, nameHint string) (session.DeviceRef, bool) {
	if address != "" {
		want := strings.ToLower(strings.TrimSpace(address))
		for _, dev := range devices {
			if strings.ToLower(dev.Identifier) == want {
				return dev, true
			}
		}
		return session.DeviceRef{}, false
	}

	hint := strings.ToLower(strings.TrimSpace(nameHint))
	matchesHint := func(dev session.DeviceRef) bool {
		return hint == "" || strings.Contains(strings.ToLower(dev.Name), hint)
	}

	for _, dev := range devices {
		if dev.HasHeartRateService && matchesHint(dev) {
			return dev, true
		}
	}

	if hint != "" {
		for _, dev := range devices {
			if matchesHint(dev) {
				return dev, true
			}
		}
	}

	return session.DeviceRef{}, false
}
