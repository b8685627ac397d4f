// Package language normalizes the language codes accepted on submissions.
//
// Callers may name a language by ISO 639-1 or ISO 639-2 code, or by English
// name for common languages; codes are stored in their shortest ISO form.
// "auto" asks the transcription engine to detect the spoken language.
package language
