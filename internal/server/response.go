package server

import "net/http"

// ContentType is the media type announced by every response.
const ContentType = "text/plain"

// newResponse builds the fixed benchmark response: 400 Bad Request with no
// body. Only the Connection header depends on the request, echoing its
// keep-alive intent.
func newResponse(req *http.Request, serverName string) *http.Response {
	keepAlive := !req.Close
	connection := "close"
	if keepAlive {
		connection = "keep-alive"
	}

	header := make(http.Header, 3)
	header.Set("Server", serverName)
	header.Set("Content-Type", ContentType)
	header.Set("Connection", connection)

	return &http.Response{
		Status:        http.StatusText(http.StatusBadRequest),
		StatusCode:    http.StatusBadRequest,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        header,
		ContentLength: 0,
		Close:         !keepAlive,
	}
}
