package patient

import (
	"strings"
)

// NormalizeNationalID strips punctuation from a CPF and renders it as
// XXX.XXX.XXX-XX. Anything other than exactly 11 digits is rejected.
func NormalizeNationalID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == ' ':
		default:
			return "", ErrInvalidNationalID
		}
	}
	d := b.String()
	if len(d) != 11 {
		return "", ErrInvalidNationalID
	}
	return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11], nil
}
