package vspty

import _ "embed"

// DefaultConfigYAML is the documented default configuration, printed by
// `vspty config`.
//
//go:embed configs/vspty.yaml
var DefaultConfigYAML string
