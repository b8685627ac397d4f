// Package transcript defines the transcript artifact written by the
// transcribe stage and renders it as JSON, SRT, WebVTT, or plain text.
package transcript
