package types

// Event is the flattened form of an engine event as journaled by vaultd:
// a dotted type such as "vault.initiateRequest" and string attributes.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Vault returns the hex address of the vault the event belongs to, if any.
func (e *Event) Vault() string { return e.Attr("vault") }
