package node

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// httpServer owns the listener and the http.Server serving the API.
type httpServer struct {
	server   *http.Server
	listener net.Listener
}

// newHTTPServer binds the endpoint and wraps the handler in the standard
// stack. The listener is opened here so port clashes surface at startup,
// not on the first request.
func newHTTPServer(endpoint string, handler http.Handler, allowedOrigins []string) (*httpServer, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, err
	}
	return &httpServer{
		server: &http.Server{
			Handler:           newHTTPHandlerStack(handler, allowedOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

func (h *httpServer) start() {
	go h.server.Serve(h.listener)
	log.Info("HTTP endpoint opened", "url", fmt.Sprintf("http://%v/", h.listener.Addr()))
}

func (h *httpServer) stop() {
	url := fmt.Sprintf("http://%v/", h.listener.Addr())
	// Don't bother imposing a timeout here.
	h.server.Shutdown(context.Background())
	log.Info("HTTP endpoint closed", "url", url)
}

func (h *httpServer) addr() net.Addr {
	return h.listener.Addr()
}

// newHTTPHandlerStack wraps the API handler with CORS and gzip.
func newHTTPHandlerStack(srv http.Handler, allowedOrigins []string) http.Handler {
	handler := newCorsHandler(srv, allowedOrigins)
	return newGzipHandler(handler)
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	// disable CORS support if user has not specified a custom CORS configuration
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		MaxAge:         600,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(srv)
}

var gzPool = sync.Pool{
	New: func() interface{} {
		w := gzip.NewWriter(io.Discard)
		return w
	},
}

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func newGzipHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")

		gz := gzPool.Get().(*gzip.Writer)
		defer gzPool.Put(gz)

		gz.Reset(w)
		defer gz.Close()

		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}
