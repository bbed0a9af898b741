package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
)

type bodyLimitKey struct{}

// limitedBody records whether a read ran into the size cap.
type limitedBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.exceeded = true
	}
	return n, err
}

// LimitBody caps request bodies at max bytes.
func LimitBody(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, max)}
			r.Body = body
			ctx := context.WithValue(r.Context(), bodyLimitKey{}, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BodyTooLarge reports whether LimitBody cut off this request's body.
func BodyTooLarge(r *http.Request) bool {
	body, ok := r.Context().Value(bodyLimitKey{}).(*limitedBody)
	return ok && body.exceeded
}
