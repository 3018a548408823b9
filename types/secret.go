package types

// SecretMask is the placeholder rendered in place of secret values.
const SecretMask = "[SECRET]"

// Secret is a string whose value must never reach a log line or an error
// message. Formatting paths (fmt verbs, Stringer, structured log fields)
// receive the mask. JSON carries the real value: secrets ride queue payloads
// between dispatcher and worker and must arrive intact.
type Secret string

// Render returns the masked placeholder.
func (s Secret) Render() string {
	if s == "" {
		return ""
	}
	return SecretMask
}

// Reveal returns the underlying value. Call sites are the audit surface for
// secret usage; keep them few.
func (s Secret) Reveal() string {
	return string(s)
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s == ""
}

// String implements fmt.Stringer with the masked form, so %v/%s verbs and
// structured log fields cannot leak the value.
func (s Secret) String() string {
	return s.Render()
}

// RevealMap converts a masked secret map into plain strings for injection
// into an execution environment.
func RevealMap(in map[string]Secret) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v.Reveal()
	}
	return out
}
