//go:build analyzerplugin

// Command plugin builds the workflow analyzer as a golangci-lint Go plugin:
//
//	go build -tags analyzerplugin -buildmode=plugin -o durable.so ./analyzer/plugin
package main

import (
	"github.com/go-durable/durable/analyzer"
	"golang.org/x/tools/go/analysis"
)

// New is looked up by golangci-lint when loading the plugin. The analyzer takes no settings.
func New(settings any) ([]*analysis.Analyzer, error) {
	return []*analysis.Analyzer{analyzer.Analyzer}, nil
}
