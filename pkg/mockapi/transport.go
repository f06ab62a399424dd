package mockapi

import (
	"net/http"
	"net/http/httptest"
)

// Transport serves requests in process, without a listener. Requests whose
// context ends while the handler runs fail with the context error, as they
// would over the network.
type Transport struct {
	Handler http.Handler
}

// Transport returns an in-process round tripper backed by s.
func (s *Server) Transport() *Transport {
	return &Transport{Handler: s}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := httptest.NewRecorder()
	t.Handler.ServeHTTP(rec, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := rec.Result()
	res.Request = req
	return res, nil
}
