// Package server is the spell-check language server: it maps LSP
// notifications onto the document store and the validation scheduler, and
// publishes the resulting diagnostics back to the client.
package server
