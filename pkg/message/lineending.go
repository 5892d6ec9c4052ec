package message

import "bytes"

// Canonical converts "\r\n" and lone "\r" to "\n".
func Canonical(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\r' {
			out = append(out, c)
			continue
		}
		out = append(out, '\n')
		if i+1 < len(b) && b[i+1] == '\n' {
			i++
		}
	}
	return out
}

// Wire converts any line ending convention to "\r\n".
func Wire(b []byte) []byte {
	canonical := Canonical(b)
	return bytes.ReplaceAll(canonical, []byte("\n"), []byte("\r\n"))
}
