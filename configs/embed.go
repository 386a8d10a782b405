// Package configs embeds the commented configuration template written by
// `fusearch config init`.
//
// The template is a text/template executed with a *config.Config, so the
// defaults it shows always match the running binary.
package configs

import _ "embed"

// UserConfigTemplate renders $XDG_CONFIG_HOME/fusearch/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
