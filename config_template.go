package storagejanitor

import _ "embed"

// DefaultJanitorConfig contains the default janitor configuration template.
//
//go:embed janitor.example.yml
var DefaultJanitorConfig []byte

// JanitorConfigTemplate returns a safe copy of the default configuration template.
func JanitorConfigTemplate() []byte {
	buf := make([]byte, len(DefaultJanitorConfig))
	copy(buf, DefaultJanitorConfig)
	return buf
}
