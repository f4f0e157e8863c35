// Package cli implements the stablemock command line: analyzing captured
// traffic, rewriting stub mappings and inspecting detected fields.
package cli
