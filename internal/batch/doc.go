// Package batch groups jobs submitted together, derives their aggregate
// status and progress, and exports finished transcripts as a zip archive
// with a YAML manifest.
package batch
