// Package otp finds, formats and generates six-digit one-time codes.
package otp

import (
	"crypto/rand"
	"fmt"
	"html"
	"math/big"
	"regexp"
	"strings"
)

// A code is six consecutive digits, or two groups of three separated by
// whitespace, bounded by non-digits or the ends of the text.
var codePattern = regexp.MustCompile(`(?:^|[^0-9])([0-9]{6}|[0-9]{3}[\s\v\p{Zs}]+[0-9]{3})(?:[^0-9]|$)`)

// Extract returns the first code found in text with whitespace removed.
// The second result is false when no code is present.
func Extract(text string) (string, bool) {
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.Join(strings.Fields(m[1]), ""), true
}

// Format renders a six-digit code as "DDD DDD" for speaking back
func Format(code string) string {
	if len(code) != 6 {
		return code
	}
	return code[:3] + " " + code[3:]
}

var codeRange = big.NewInt(900000)

// Generate returns a uniformly random code in [100000, 999999]
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeRange)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// EmailSubject is the subject of the message carrying a code
const EmailSubject = "Your OTP Code"

// EmailHTML renders the message body. The code is printed large enough to be
// read back from a camera picture of the screen.
func EmailHTML(code string) string {
	return `<html><body><br/>` +
		`<p style="font-family:tahoma; font-weight: bold; font-size:45px">` + html.EscapeString(code) + `</p>` +
		`</body></html>`
}

// EmailText is the plain text alternative of EmailHTML
func EmailText(code string) string {
	return "Your one-time code is " + code
}
