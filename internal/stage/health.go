package stage

// Health is the readiness of one stage as reported by its handler.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy marks name ready.
func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy marks name not ready; detail says what is missing.
func Unhealthy(name, detail string) Health { return Health{Name: name, Detail: detail} }

// AllReady reports whether every entry is ready. An empty list is ready.
func AllReady(health []Health) bool {
	for _, h := range health {
		if !h.Ready {
			return false
		}
	}
	return true
}
