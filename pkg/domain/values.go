package domain

// ---------------------------------------------------------------------------
// Shared value objects
// ---------------------------------------------------------------------------

// ConnectionStatus is the lifecycle state of the companion context.
type ConnectionStatus string

const (
	// StatusIdle: no companion exists.
	StatusIdle ConnectionStatus = "idle"
	// StatusConnecting: the companion was opened and the ready handshake is pending.
	StatusConnecting ConnectionStatus = "connecting"
	// StatusConnected: the handshake completed.
	StatusConnected ConnectionStatus = "connected"
	StatusError     ConnectionStatus = "error"
)

func (cs ConnectionStatus) String() string { return string(cs) }

// Metadata is a generic key-value map for extensible properties.
type Metadata map[string]string

// Get returns a metadata value, or empty string if not present.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Set writes a metadata key-value pair. Initializes the map if nil.
func (m *Metadata) Set(key, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}
