// Package configs holds the configuration template written by
// `hybridrank config init`.
package configs

import _ "embed"

// Template is a commented .hybridrank.yaml with every default spelled out.
//
//go:embed hybridrank.example.yaml
var Template string
