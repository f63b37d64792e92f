package proxy

import "net/http"

// Permissive CORS set applied to every response the balancer writes.
// These take precedence over backend headers of the same name.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
}

// ApplyCORS sets the fixed CORS headers, replacing any existing values.
func ApplyCORS(h http.Header) {
	for key, value := range corsHeaders {
		h.Set(key, value)
	}
}
