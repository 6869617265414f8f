// Package roomname normalizes room names so two users typing visually
// identical names always derive the same room key and topic string.
package roomname

import "golang.org/x/text/unicode/norm"

// Normalize applies Unicode NFC normalization to a room name. It is called
// once at CreateRoom and once at JoinRoom, before the name is used as a
// key-derivation salt or folded into a topic string.
func Normalize(name string) string {
	return norm.NFC.String(name)
}
