package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Swoff-Stored-At"

// StoredResponse is a response as kept in a store.
type StoredResponse struct {
	Response *http.Response
	// The value of the clock when the response was written to the store.
	StoredAt time.Time
}

// BytesToStoredResponse parses bytes produced by StoredResponseToBytes.
// The returned response is attached to req, which may be nil.
func BytesToStoredResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("Stored response lacks %s header: %w", storedAtHeaderName, err)
	}
	sRes.StoredAt = time.Unix(storedAt, 0)
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the stored response.
// The response body is consumed and then set back, so the response can still be sent.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := ResponseToBytes(res)
	// remove the extra header, the caller still owns the response
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
// and leaves an unread copy of the body on the response.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	body, err := drainBody(res)
	if err != nil {
		return nil, err
	}
	// write a shallow copy so that the original keeps its framing
	wire := *res
	wire.Body = io.NopCloser(bytes.NewReader(body))
	wire.ContentLength = int64(len(body))
	wire.TransferEncoding = nil
	if wire.ProtoMajor == 0 {
		wire.ProtoMajor, wire.ProtoMinor = 1, 1
	}
	buf := &bytes.Buffer{}
	if err := wire.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drainBody reads the whole body and sets a fresh reader over it back on the response.
func drainBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		return nil, nil
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
