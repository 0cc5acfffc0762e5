package h1

import (
	"bytes"
	"math"
)

var (
	crlf             = []byte("\r\n")
	headerTerminator = []byte("\r\n\r\n")
	contentLengthKey = []byte("Content-Length:")
	boundaryKey      = []byte("boundary=")
)

// HeaderEnd returns the offset just past the blank line that ends the header
// block, or -1 when the block is not complete yet.
func HeaderEnd(b []byte) int {
	if i := bytes.Index(b, headerTerminator); i >= 0 {
		return i + len(headerTerminator)
	}
	return -1
}

// headerBlock narrows b to the header section once it is known, so body bytes
// never leak into framing decisions.
func headerBlock(b []byte) []byte {
	if end := HeaderEnd(b); end >= 0 {
		return b[:end]
	}
	return b
}

// ContentLength scans for a "Content-Length: N" header line. The header name
// is matched case-sensitively. A value that overflows int is reported as
// math.MaxInt so that the growth limit rejects it.
func ContentLength(b []byte) (int, bool) {
	block := headerBlock(b)
	off := 0
	for {
		i := bytes.Index(block[off:], contentLengthKey)
		if i < 0 {
			return 0, false
		}
		start := off + i
		off = start + len(contentLengthKey)
		if start > 0 && block[start-1] != '\n' {
			continue
		}

		j := off
		for j < len(block) && (block[j] == ' ' || block[j] == '\t') {
			j++
		}
		n, k := 0, j
		for k < len(block) && block[k] >= '0' && block[k] <= '9' {
			d := int(block[k] - '0')
			if n > (math.MaxInt-d)/10 {
				return math.MaxInt, true
			}
			n = n*10 + d
			k++
		}
		if k == j {
			continue
		}
		return n, true
	}
}

// Boundary extracts the multipart boundary token from a "boundary=" parameter.
// The token runs to the end of its line; surrounding quotes are dropped.
func Boundary(b []byte) (string, bool) {
	block := headerBlock(b)
	i := bytes.Index(block, boundaryKey)
	if i < 0 {
		return "", false
	}
	rest := block[i+len(boundaryKey):]
	end := bytes.Index(rest, crlf)
	if end < 0 {
		return "", false
	}
	v := bytes.TrimSpace(rest[:end])
	if semi := bytes.IndexByte(v, ';'); semi >= 0 {
		v = bytes.TrimSpace(v[:semi])
	}
	v = bytes.Trim(v, `"`)
	if len(v) == 0 {
		return "", false
	}
	return string(v), true
}

// Terminated reports whether the closing delimiter "--<boundary>--" is
// present in b.
func Terminated(b []byte, boundary string) bool {
	if boundary == "" {
		return false
	}
	delim := make([]byte, 0, len(boundary)+4)
	delim = append(delim, "--"...)
	delim = append(delim, boundary...)
	delim = append(delim, "--"...)
	return bytes.Contains(b, delim)
}

// framed reports whether b holds a whole message: the header block is closed
// and either the multipart terminator was seen, the declared length is
// satisfied, or no length signal exists at all.
func framed(b []byte, boundary string) bool {
	end := HeaderEnd(b)
	if end < 0 {
		return false
	}
	if boundary != "" && Terminated(b[end:], boundary) {
		return true
	}
	if n, ok := ContentLength(b); ok {
		return len(b)-end >= n
	}
	return boundary == ""
}
