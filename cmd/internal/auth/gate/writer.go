package gate

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
)

// clearingWriter appends a session deletion cookie just before the header
// is committed, unless the handler already set the session cookie.
type clearingWriter struct {
	http.ResponseWriter
	cookie CookieConfig
	done   bool
}

func (w *clearingWriter) apply() {
	if w.done {
		return
	}
	w.done = true
	if !setsCookie(w.Header(), w.cookie.name()) {
		http.SetCookie(w.ResponseWriter, w.cookie.deletion())
	}
}

func (w *clearingWriter) WriteHeader(code int) {
	w.apply()
	w.ResponseWriter.WriteHeader(code)
}

func (w *clearingWriter) Write(p []byte) (int, error) {
	w.apply()
	return w.ResponseWriter.Write(p)
}

func (w *clearingWriter) ReadFrom(r io.Reader) (int64, error) {
	w.apply()
	if rf, ok := w.ResponseWriter.(io.ReaderFrom); ok {
		return rf.ReadFrom(r)
	}
	return io.Copy(w.ResponseWriter, r)
}

func (w *clearingWriter) Flush() {
	w.apply()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *clearingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func (w *clearingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
