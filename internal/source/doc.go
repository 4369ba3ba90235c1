// Package source implements the fast-path and high-fidelity frame sources
// over HTTP.
//
// The fast path downloads a pre-rendered MJPEG sequence as one multipart body
// and decodes every JPEG part. The high-fidelity path requests individual
// frames from a DICOMweb endpoint and hands the raw payloads on untouched.
package source
