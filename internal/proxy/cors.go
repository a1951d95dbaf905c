package proxy

import "net/http"

// Permissive CORS header set attached to every proxy response.
const (
	AllowOrigin      = "*"
	AllowCredentials = "true"
	AllowMethods     = "GET,OPTIONS,PATCH,DELETE,POST,PUT"
	AllowHeaders     = "X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, " +
		"Content-MD5, Content-Type, Date, X-Api-Version, Authorization, Range, " +
		"client-id, client-type, client-version, randomid, version"
)

// SetCORS writes the CORS header set onto h.
func SetCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", AllowOrigin)
	h.Set("Access-Control-Allow-Credentials", AllowCredentials)
	h.Set("Access-Control-Allow-Methods", AllowMethods)
	h.Set("Access-Control-Allow-Headers", AllowHeaders)
}
