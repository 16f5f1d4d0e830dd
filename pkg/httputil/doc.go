// Package httputil holds the JSON envelope and request helpers shared by the
// API handlers and middleware.
//
// Every response body is an Envelope:
//
//	{"success": true, "data": {...}}
//	{"success": true, "count": 2, "data": [...]}
//	{"success": false, "message": "tenant not found"}
//
// Handlers decode with ParseJSONOrError, which answers 400 itself:
//
//	var req createRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
package httputil
